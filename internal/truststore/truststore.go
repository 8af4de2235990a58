// Package truststore installs the portless CA into the operating system's
// trust store so browsers accept the generated certificates.
package truststore

import "errors"

// ErrUnsupported is returned on platforms without a known trust store.
var ErrUnsupported = errors.New("truststore: no supported trust store on this platform")
