package tftp

import (
	"fmt"
	"strconv"
	"time"
)

// Negotiate applies the option negotiation rules (RFC 2348, RFC 2349) to
// the options carried on an RRQ. It returns the accepted options (for the
// OACK reply, always in the order blksize, timeout, tsize regardless of
// the order requested), the negotiated block size, and the
// negotiated per-block timeout. An error means the request carried a
// malformed option value and should be answered with ERROR(8).
func Negotiate(requested Options, fileSize uint64) (accepted Options, blksize int, timeout time.Duration, err error) {
	blksize = DefaultBlockSize
	timeoutSeconds := DefaultTimeoutSeconds

	if v, ok := requested.Get(OptionBlksize); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, 0, 0, fmt.Errorf("tftp: invalid blksize %q", v)
		}
		blksize = clamp(n, MinBlockSize, MaxBlockSize)
		accepted = append(accepted, Option{Name: OptionBlksize, Value: strconv.Itoa(blksize)})
	}

	if v, ok := requested.Get(OptionTimeout); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, 0, 0, fmt.Errorf("tftp: invalid timeout %q", v)
		}
		timeoutSeconds = clamp(n, MinTimeoutSeconds, MaxTimeoutSeconds)
		accepted = append(accepted, Option{Name: OptionTimeout, Value: strconv.Itoa(timeoutSeconds)})
	}

	if _, ok := requested.Get(OptionTsize); ok {
		accepted = append(accepted, Option{Name: OptionTsize, Value: strconv.FormatUint(fileSize, 10)})
	}

	return accepted, blksize, time.Duration(timeoutSeconds) * time.Second, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
