package alloc

import (
	"fmt"

	"github.com/mit-pdos/go-sifs/common"
)

// CountMismatchError reports a superblock free counter that disagrees with
// its bitmap.
type CountMismatchError struct {
	Which   string
	Cached  uint64
	Scanned uint64
}

func (err CountMismatchError) Error() string {
	return fmt.Sprintf("%s: superblock says %d free, bitmap has %d",
		err.Which, err.Cached, err.Scanned)
}

func (err CountMismatchError) Unwrap() error {
	return common.ErrCorrupt
}
