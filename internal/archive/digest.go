package archive

import (
	"encoding/hex"
	"strings"

	"github.com/zeebo/blake3"
)

const digestPrefix = "blake3:"

// snapshotDomainKey separates snapshot digests from any other BLAKE3 use of
// the same bytes. It is the ASCII domain name, zero padded to 32 bytes.
var snapshotDomainKey = [32]byte{
	'p', 'h', 'a', 'r', 'm', 'a', 'n', 'e', 't', '.', 'l', 'e', 'd', 'g', 'e', 'r',
	'.', 's', 'n', 'a', 'p', 's', 'h', 'o', 't', 0, 0, 0, 0, 0, 0, 0,
}

// Digest returns the keyed BLAKE3 digest of an archived payload in its
// printable form.
func Digest(payload []byte) string {
	hasher, err := blake3.NewKeyed(snapshotDomainKey[:])
	if err != nil {
		panic("archive: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	_, _ = hasher.Write(payload)
	return digestPrefix + hex.EncodeToString(hasher.Sum(nil))
}

func validDigest(s string) bool {
	hexPart, ok := strings.CutPrefix(s, digestPrefix)
	if !ok || len(hexPart) != 64 {
		return false
	}
	_, err := hex.DecodeString(hexPart)
	return err == nil
}
