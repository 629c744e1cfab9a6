package analysis

import (
	"crypto/md5"
	"encoding/hex"
	"io"
	"os"
	"sync/atomic"

	"github.com/fspulse/fspulse/internal/fserr"
)

// chunkSize is the fixed read size the hash loop streams a file in,
// checked against the cancellation flag between chunks (§4.3, §5).
const chunkSize = 8192

// hashFile streams path in fixed chunks through an MD5 digest,
// returning the hex-encoded result. A read failure is returned as a
// plain error for the caller to record as access = ReadError; a
// cancellation observed mid-read returns fserr.ErrInterrupted.
func hashFile(path string, cancelled *atomic.Bool) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	buf := make([]byte, chunkSize)
	for {
		if cancelled != nil && cancelled.Load() {
			return "", fserr.ErrInterrupted
		}

		n, readErr := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return "", readErr
		}
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
