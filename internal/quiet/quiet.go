package quiet

import "io"

// Close releases each of the given resources, ignoring any failures. Use it in defers and
// cleanup paths where there's nothing useful left to do with the error. Nil closers are skipped.
func Close(closers ...io.Closer) {
	for _, closer := range closers {
		if closer != nil {
			_ = closer.Close()
		}
	}
}
