package gateway

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"testing"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

func signAs(t *testing.T, keyHex, message string) string {
	t.Helper()
	key, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		t.Fatalf("bad key: %v", err)
	}
	msg := []byte(message)
	prefix := []byte("\x19Ethereum Signed Message:\n" + strconv.Itoa(len(msg)))
	hash := ethcrypto.Keccak256(prefix, msg)
	sig, err := ethcrypto.Sign(hash, key)
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	// Wallets report v as 27/28.
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig)
}

func TestVerifyWalletSignature(t *testing.T) {
	const keyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	key, _ := ethcrypto.HexToECDSA(keyHex)
	wallet := ethcrypto.PubkeyToAddress(key.PublicKey)

	timestamp := fmt.Sprintf("%d", time.Now().Unix())
	message := signedMessage("POST", "/v1/escrows", timestamp)

	if err := verifyWalletSignature(wallet, signAs(t, keyHex, message), message, timestamp); err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}

	// Signature over a different request must not verify.
	other := signedMessage("POST", "/v1/escrows/x/cancel", timestamp)
	if err := verifyWalletSignature(wallet, signAs(t, keyHex, other), message, timestamp); err == nil {
		t.Fatal("signature for another path accepted")
	}

	// A stale timestamp is a replay.
	stale := fmt.Sprintf("%d", time.Now().Add(-time.Hour).Unix())
	staleMsg := signedMessage("POST", "/v1/escrows", stale)
	if err := verifyWalletSignature(wallet, signAs(t, keyHex, staleMsg), staleMsg, stale); err == nil {
		t.Fatal("stale signature accepted")
	}

	// Garbage signatures fail cleanly.
	if err := verifyWalletSignature(wallet, "0x1234", message, timestamp); err == nil {
		t.Fatal("malformed signature accepted")
	}
}
