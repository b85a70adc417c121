//go:build !(linux || darwin || freebsd)

package volume

// Stat always fails with ErrUnsupported.
func Stat(path string) (Stats, error) {
	return Stats{Path: path}, ErrUnsupported
}
