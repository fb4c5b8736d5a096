// Package password hashes and verifies credentials.
//
// # Output formats
//
// argon2id digests use the PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// bcrypt digests use the modular crypt format ($2a$, $2b$, $2y$). Inputs
// longer than 72 bytes are reduced with SHA-256 before bcrypt sees them.
//
// Either format verifies regardless of which algorithm is configured as
// primary. [Hasher.NeedsRehash] reports digests that should be replaced on
// the next successful login.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords. Callers supply plaintext and receive digests.
//   - Import any other authcore package.
//   - Log plaintext secrets.
package password
