package tee

import (
	"context"
	"crypto/rand"

	tdx_client "github.com/google/go-tdx-guest/client"
)

// DCAPEnclave produces TDX DCAP quotes from inside the trust domain, through
// configfs-tsm when available and the TDX guest device otherwise.
type DCAPEnclave struct{}

func (DCAPEnclave) Quote(_ context.Context, payload [32]byte) ([]byte, error) {
	rd := reportData(payload)

	qp := &tdx_client.LinuxConfigFsQuoteProvider{}
	if qp.IsSupported() == nil {
		return qp.GetRawQuote(rd)
	}

	qd, err := tdx_client.OpenDevice()
	if err != nil {
		return nil, err
	}
	defer qd.Close()

	return tdx_client.GetRawQuote(qd, rd)
}

// ReadRandom reads from the guest kernel CSPRNG, which lives inside the TD.
func (DCAPEnclave) ReadRandom(_ context.Context, n int) ([]byte, error) {
	if err := validateRandomLength(n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	if _, err := rand.Read(out); err != nil {
		return nil, err
	}
	return out, nil
}
