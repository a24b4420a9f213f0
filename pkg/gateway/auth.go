package gateway

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/crowdforge/escrow-engine/pkg/errors"
)

// Wallet auth headers. The client personal-signs the canonical request
// string with the key behind X-Wallet-Address.
const (
	headerWalletAddress   = "X-Wallet-Address"
	headerWalletSignature = "X-Wallet-Signature"
	headerWalletTimestamp = "X-Wallet-Timestamp"
)

// signatureMaxAge bounds replay of a captured signature.
const signatureMaxAge = 5 * time.Minute

type callerKey struct{}

// CallerFrom returns the authenticated wallet address of the request.
func CallerFrom(ctx context.Context) (common.Address, bool) {
	addr, ok := ctx.Value(callerKey{}).(common.Address)
	return addr, ok
}

// signedMessage is the canonical string the wallet signs. Binding method
// and path stops a signature for one operation being replayed on another.
func signedMessage(method, path, timestamp string) string {
	return fmt.Sprintf("escrow-engine|%s|%s|%s", method, path, timestamp)
}

// walletAuth authenticates mutating requests by recovering the signer of
// the canonical request string. When auth is disabled the caller is taken
// from X-Wallet-Address as-is, which is only acceptable in development.
func (g *Gateway) walletAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wallet := r.Header.Get(headerWalletAddress)
		if !common.IsHexAddress(wallet) {
			errors.WriteHTTP(w, errors.NewAuthorizationError(wallet))
			return
		}
		caller := common.HexToAddress(wallet)

		if g.cfg.AuthEnabled {
			timestamp := r.Header.Get(headerWalletTimestamp)
			signature := r.Header.Get(headerWalletSignature)
			if err := verifyWalletSignature(caller, signature, signedMessage(r.Method, r.URL.Path, timestamp), timestamp); err != nil {
				errors.WriteHTTP(w, err)
				return
			}
		}

		ctx := context.WithValue(r.Context(), callerKey{}, caller)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// verifyWalletSignature checks freshness and recovers the personal-sign
// signer, requiring it to match wallet.
func verifyWalletSignature(wallet common.Address, signature, message, timestamp string) error {
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return errors.NewAuthorizationError(wallet.Hex())
	}
	age := time.Since(time.Unix(ts, 0))
	if age > signatureMaxAge || age < -signatureMaxAge {
		return errors.NewAuthorizationError(wallet.Hex())
	}

	msg := []byte(message)
	prefix := []byte("\x19Ethereum Signed Message:\n" + strconv.Itoa(len(msg)))
	hash := ethcrypto.Keccak256(prefix, msg)

	sigHex := strings.TrimSpace(signature)
	if strings.HasPrefix(sigHex, "0x") || strings.HasPrefix(sigHex, "0X") {
		sigHex = sigHex[2:]
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil || len(sig) != 65 {
		return errors.NewAuthorizationError(wallet.Hex())
	}

	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pub, err := ethcrypto.SigToPub(hash, sig)
	if err != nil {
		return errors.NewAuthorizationError(wallet.Hex())
	}
	if ethcrypto.PubkeyToAddress(*pub) != wallet {
		return errors.NewAuthorizationError(wallet.Hex())
	}
	return nil
}
