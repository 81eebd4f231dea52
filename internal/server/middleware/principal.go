package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/nftmarket/internal/crypto"
)

// Request headers that identify the calling principal.
const (
	HeaderPrincipal = "X-Principal"
	HeaderTimestamp = "X-Timestamp"
	HeaderSignature = "X-Signature"
)

type principalKey struct{}

// WithPrincipal returns ctx carrying addr as the authenticated principal.
func WithPrincipal(ctx context.Context, addr common.Address) context.Context {
	return context.WithValue(ctx, principalKey{}, addr)
}

// PrincipalFrom returns the principal resolved for the request, if any.
func PrincipalFrom(ctx context.Context) (common.Address, bool) {
	addr, ok := ctx.Value(principalKey{}).(common.Address)
	return addr, ok
}

// PrincipalConfig controls how X-Principal is trusted.
type PrincipalConfig struct {
	// RequireSignatures demands an EIP-191 signature over
	// "<METHOD> <PATH> <TIMESTAMP>" that recovers to X-Principal.
	RequireSignatures bool
	MaxSkew           time.Duration
	Now               func() time.Time
}

// Principal resolves the caller from X-Principal. Requests without the
// header pass through anonymously; handlers that need a caller reject them.
func Principal(cfg PrincipalConfig) func(http.Handler) http.Handler {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get(HeaderPrincipal)
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}
			if !common.IsHexAddress(raw) {
				writeError(w, http.StatusBadRequest, "X-Principal must be a hex address")
				return
			}
			addr := common.HexToAddress(raw)

			if cfg.RequireSignatures {
				if msg, ok := verifyRequest(r, addr, cfg); !ok {
					writeError(w, http.StatusUnauthorized, msg)
					return
				}
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), addr)))
		})
	}
}

func verifyRequest(r *http.Request, addr common.Address, cfg PrincipalConfig) (string, bool) {
	ts, err := strconv.ParseInt(r.Header.Get(HeaderTimestamp), 10, 64)
	if err != nil {
		return "X-Timestamp must be unix seconds", false
	}
	skew := cfg.Now().Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > cfg.MaxSkew {
		return "request timestamp outside allowed skew", false
	}

	sig := r.Header.Get(HeaderSignature)
	if sig == "" {
		return "missing X-Signature", false
	}
	signer, err := crypto.RecoverRequestSigner(r.Method, r.URL.Path, ts, sig)
	if err != nil || signer != addr {
		return "signature does not match X-Principal", false
	}
	return "", true
}
