package scan

import "github.com/rotisserie/eris"

// Call-time failures of StartScan. Nothing is persisted when one is returned.
var (
	ErrAccountNotFound = eris.New("scan: account not found")
	ErrQuotaExceeded   = eris.New("scan: no scans remaining")
	ErrInvalidRequest  = eris.New("scan: city and category are required")
)
