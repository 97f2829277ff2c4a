//go:build !unix

package stability

func maxRSS() uint64 {
	return 0
}
