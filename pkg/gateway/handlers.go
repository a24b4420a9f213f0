package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"github.com/crowdforge/escrow-engine/pkg/errors"
	"github.com/crowdforge/escrow-engine/pkg/token"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		errors.WriteHTTP(w, errors.NewValidationError("malformed request body"))
		return false
	}
	return true
}

func parseAddress(w http.ResponseWriter, field, value string) (common.Address, bool) {
	if !common.IsHexAddress(value) {
		errors.WriteHTTP(w, errors.NewValidationError("invalid address").WithField(field))
		return common.Address{}, false
	}
	return common.HexToAddress(value), true
}

type createEscrowRequest struct {
	ID       string `json:"id"`
	Token    string `json:"token"`
	Launcher string `json:"launcher"`
	Admin    string `json:"admin"`
}

func (g *Gateway) handleCreateEscrow(w http.ResponseWriter, r *http.Request) {
	var req createEscrowRequest
	if !decodeBody(w, r, &req) {
		return
	}
	tok, ok := parseAddress(w, "token", req.Token)
	if !ok {
		return
	}
	launcher, ok := parseAddress(w, "launcher", req.Launcher)
	if !ok {
		return
	}
	admin, ok := parseAddress(w, "admin", req.Admin)
	if !ok {
		return
	}

	// Address-form ids are stored checksummed so later lookups by address
	// hit the same key.
	id := req.ID
	if common.IsHexAddress(id) {
		id = common.HexToAddress(id).Hex()
	}

	e, err := g.ledger.Create(id, tok, launcher, admin)
	if err != nil {
		errors.WriteHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (g *Gateway) handleGetEscrow(w http.ResponseWriter, r *http.Request) {
	e, err := g.ledger.Get(chi.URLParam(r, "id"))
	if err != nil {
		errors.WriteHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (g *Gateway) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	balance, err := g.ledger.GetBalance(id)
	if err != nil {
		errors.WriteHTTP(w, err)
		return
	}
	reserved, err := g.ledger.ReservedFunds(id)
	if err != nil {
		errors.WriteHTTP(w, err)
		return
	}
	remaining, err := g.ledger.RemainingFunds(id)
	if err != nil {
		errors.WriteHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"balance":        balance.String(),
		"reservedFunds":  reserved.String(),
		"remainingFunds": remaining.String(),
	})
}

type depositRequest struct {
	Amount token.Amount `json:"amount"`
}

func (g *Gateway) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := g.ledger.Deposit(chi.URLParam(r, "id"), req.Amount); err != nil {
		errors.WriteHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "funded"})
}

type setupRequest struct {
	ReputationOracle string `json:"reputationOracle"`
	RecordingOracle  string `json:"recordingOracle"`
	ExchangeOracle   string `json:"exchangeOracle"`
	ReputationFee    uint8  `json:"reputationFee"`
	RecordingFee     uint8  `json:"recordingFee"`
	ExchangeFee      uint8  `json:"exchangeFee"`
	ManifestURL      string `json:"manifestUrl"`
	ManifestHash     string `json:"manifestHash"`
}

func (g *Gateway) handleSetup(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFrom(r.Context())
	if !ok {
		errors.WriteHTTP(w, errors.NewAuthorizationError(""))
		return
	}
	var req setupRequest
	if !decodeBody(w, r, &req) {
		return
	}
	reputation, ok := parseAddress(w, "reputationOracle", req.ReputationOracle)
	if !ok {
		return
	}
	recording, ok := parseAddress(w, "recordingOracle", req.RecordingOracle)
	if !ok {
		return
	}
	exchange, ok := parseAddress(w, "exchangeOracle", req.ExchangeOracle)
	if !ok {
		return
	}

	err := g.ledger.Setup(chi.URLParam(r, "id"), caller, reputation, recording, exchange,
		req.ReputationFee, req.RecordingFee, req.ExchangeFee, req.ManifestURL, req.ManifestHash)
	if err != nil {
		errors.WriteHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "pending"})
}

type storeResultsRequest struct {
	URL     string       `json:"url"`
	Hash    string       `json:"hash"`
	Reserve token.Amount `json:"reserve"`
}

func (g *Gateway) handleStoreResults(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFrom(r.Context())
	if !ok {
		errors.WriteHTTP(w, errors.NewAuthorizationError(""))
		return
	}
	var req storeResultsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := g.ledger.StoreResults(chi.URLParam(r, "id"), caller, req.URL, req.Hash, req.Reserve); err != nil {
		errors.WriteHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stored"})
}

type bulkPayOutRequest struct {
	Recipients       []string       `json:"recipients"`
	Amounts          []token.Amount `json:"amounts"`
	FinalResultsURL  string         `json:"finalResultsUrl"`
	FinalResultsHash string         `json:"finalResultsHash"`
	PayoutID         string         `json:"payoutId"`
	ForceComplete    bool           `json:"forceComplete"`
}

func (g *Gateway) handleBulkPayOut(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFrom(r.Context())
	if !ok {
		errors.WriteHTTP(w, errors.NewAuthorizationError(""))
		return
	}
	var req bulkPayOutRequest
	if !decodeBody(w, r, &req) {
		return
	}
	recipients := make([]common.Address, len(req.Recipients))
	for i, raw := range req.Recipients {
		addr, ok := parseAddress(w, "recipients", raw)
		if !ok {
			return
		}
		recipients[i] = addr
	}

	err := g.ledger.BulkPayOut(chi.URLParam(r, "id"), caller, recipients, req.Amounts,
		req.FinalResultsURL, req.FinalResultsHash, req.PayoutID, req.ForceComplete)
	if err != nil {
		errors.WriteHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "paid"})
}

func (g *Gateway) handleCancel(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFrom(r.Context())
	if !ok {
		errors.WriteHTTP(w, errors.NewAuthorizationError(""))
		return
	}
	if err := g.ledger.Cancel(chi.URLParam(r, "id"), caller); err != nil {
		errors.WriteHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancellation requested"})
}

func (g *Gateway) handleComplete(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFrom(r.Context())
	if !ok {
		errors.WriteHTTP(w, errors.NewAuthorizationError(""))
		return
	}
	if err := g.ledger.Complete(chi.URLParam(r, "id"), caller); err != nil {
		errors.WriteHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "complete"})
}

type withdrawRequest struct {
	Token string `json:"token"`
}

func (g *Gateway) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFrom(r.Context())
	if !ok {
		errors.WriteHTTP(w, errors.NewAuthorizationError(""))
		return
	}
	var req withdrawRequest
	if !decodeBody(w, r, &req) {
		return
	}
	tok, ok := parseAddress(w, "token", req.Token)
	if !ok {
		return
	}
	amount, err := g.ledger.Withdraw(chi.URLParam(r, "id"), caller, tok)
	if err != nil {
		errors.WriteHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"amount": amount.String()})
}

type settleRequest struct {
	ChainID       uint64 `json:"chainId"`
	EscrowID      string `json:"escrowId"`
	ForceComplete bool   `json:"forceComplete"`
}

func (g *Gateway) handleSettle(w http.ResponseWriter, r *http.Request) {
	var req settleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.EscrowID == "" {
		errors.WriteHTTP(w, errors.NewValidationError("empty escrow id"))
		return
	}

	record, err := g.coordinator.Settle(r.Context(), req.ChainID, req.EscrowID, req.ForceComplete)
	if err != nil {
		// The record carries the failure detail; surface both.
		status := errors.HTTPStatus(errors.CodeOf(err))
		writeJSON(w, status, record)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (g *Gateway) handleGetSettlement(w http.ResponseWriter, r *http.Request) {
	record, ok := g.coordinator.Record(chi.URLParam(r, "id"))
	if !ok {
		errors.WriteHTTP(w, errors.NewNotFoundError("settlement", chi.URLParam(r, "id")))
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (g *Gateway) handleEvents(w http.ResponseWriter, r *http.Request) {
	if g.journal == nil {
		errors.WriteHTTP(w, errors.NewNotFoundError("event journal", ""))
		return
	}
	after, _ := strconv.ParseUint(r.URL.Query().Get("after"), 10, 64)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	events, err := g.journal.EventsSince(after, limit)
	if err != nil {
		errors.WriteHTTP(w, errors.Wrap(err, "failed to read event journal"))
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (g *Gateway) handleEscrowEvents(w http.ResponseWriter, r *http.Request) {
	if g.journal == nil {
		errors.WriteHTTP(w, errors.NewNotFoundError("event journal", ""))
		return
	}
	id := chi.URLParam(r, "id")
	events, err := g.journal.EventsSince(0, 1000)
	if err != nil {
		errors.WriteHTTP(w, errors.Wrap(err, "failed to read event journal"))
		return
	}
	filtered := events[:0]
	for _, ev := range events {
		if ev.EscrowID == id {
			filtered = append(filtered, ev)
		}
	}
	writeJSON(w, http.StatusOK, filtered)
}
