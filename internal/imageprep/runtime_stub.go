//go:build !govips || !cgo

package imageprep

func Startup() error {
	return nil
}

func Shutdown() {}

func newCodec() Codec {
	return stdlibCodec{}
}
