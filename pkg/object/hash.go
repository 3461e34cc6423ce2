package object

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
)

// HashBytes returns the SHA-256 of data with no object envelope.
func HashBytes(data []byte) Hash {
	return digest(sha256.New(), data)
}

// HashObject returns the id an object of objType with content data gets in
// the store: the SHA-256 of "type len\x00" followed by data.
func HashObject(objType ObjectType, data []byte) Hash {
	d := sha256.New()
	fmt.Fprintf(d, "%s %d\x00", objType, len(data))
	return digest(d, data)
}

func digest(d hash.Hash, data []byte) Hash {
	d.Write(data)
	return Hash(hex.EncodeToString(d.Sum(nil)))
}
