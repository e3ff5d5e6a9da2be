package rpc

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"charityledger/core"
	"charityledger/crypto"
	"charityledger/indexer"
	"charityledger/native/donation"
	"charityledger/observability/logging"
)

type contributeRequest struct {
	Amount       uint64 `json:"amount"`
	RewardWallet string `json:"rewardWallet"`
}

type tokenRequest struct {
	Amount  uint64 `json:"amount"`
	Purpose string `json:"purpose"`
}

type rewardsRequest struct {
	Wallets []string `json:"wallets"`
}

func decodeBody(r *http.Request, dst interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return errInvalidBody
	}
	if len(body) > maxBodyBytes {
		return errInvalidBody
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil
	}
	dec := json.NewDecoder(strings.NewReader(string(body)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", errInvalidBody, err)
	}
	return nil
}

func campaignIDParam(r *http.Request) (uint64, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return 0, errInvalidID
	}
	return id, nil
}

func addressParam(raw string) ([20]byte, error) {
	addr, err := crypto.ParseAddress(strings.TrimSpace(raw))
	if err != nil {
		return [20]byte{}, fmt.Errorf("%w: %v", errInvalidAddress, err)
	}
	return addr, nil
}

// respond writes the receipt of a mutating call or maps its error.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, receipt *core.Receipt, err error) {
	caller, _ := callerFrom(r.Context())
	log := loggerFrom(r.Context()).With(logging.MaskField("caller", crypto.FormatAddress(caller)))
	if err != nil {
		status := statusFor(err)
		if status < http.StatusInternalServerError {
			log.Info("request rejected", "path", routePattern(r), "status", status, "error", err)
		}
		writeError(w, r, status, err)
		return
	}
	log.Info("request committed", "path", routePattern(r), "receipt", receipt.ID)
	result := receiptResult(receipt)
	if receipt.Operation == "create_campaign" && receipt.Outcome != nil {
		id := receipt.Outcome.CampaignID
		result.CampaignID = &id
	}
	status := http.StatusOK
	if result.CampaignID != nil {
		status = http.StatusCreated
	}
	writeJSON(w, status, result)
}

func (s *Server) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r.Context())
	receipt, err := s.ledger.CreateCampaign(r.Context(), caller)
	s.respond(w, r, receipt, err)
}

func (s *Server) handleContribute(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r.Context())
	id, err := campaignIDParam(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	var req contributeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	wallet := caller
	if strings.TrimSpace(req.RewardWallet) != "" {
		wallet, err = addressParam(req.RewardWallet)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, err)
			return
		}
	}
	receipt, err := s.ledger.ContributeCurrency(r.Context(), caller, id, req.Amount, wallet)
	s.respond(w, r, receipt, err)
}

func (s *Server) handleContributeToken(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r.Context())
	id, err := campaignIDParam(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	var req tokenRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	purpose, err := donation.ParseTokenPurpose(strings.TrimSpace(req.Purpose))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	receipt, err := s.ledger.ContributeToken(r.Context(), caller, id, req.Amount, purpose)
	s.respond(w, r, receipt, err)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r.Context())
	id, err := campaignIDParam(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	receipt, err := s.ledger.Withdraw(r.Context(), caller, id)
	s.respond(w, r, receipt, err)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r.Context())
	id, err := campaignIDParam(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	receipt, err := s.ledger.Cancel(r.Context(), caller, id)
	s.respond(w, r, receipt, err)
}

func (s *Server) handleRewards(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r.Context())
	var req rewardsRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	wallets := make([][20]byte, 0, len(req.Wallets))
	for _, raw := range req.Wallets {
		wallet, err := addressParam(raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, err)
			return
		}
		wallets = append(wallets, wallet)
	}
	receipt, err := s.ledger.RewardTopDonaters(r.Context(), caller, wallets)
	s.respond(w, r, receipt, err)
}

func (s *Server) handleWithdrawFee(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r.Context())
	receipt, err := s.ledger.WithdrawFee(r.Context(), caller)
	s.respond(w, r, receipt, err)
}

func (s *Server) handleUpdateParams(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r.Context())
	var patch donation.ParamsPatch
	if err := decodeBody(r, &patch); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	receipt, err := s.ledger.PatchParams(r.Context(), caller, patch)
	s.respond(w, r, receipt, err)
}

func (s *Server) handleGetService(w http.ResponseWriter, r *http.Request) {
	svc, err := s.ledger.Service()
	if err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, serviceResult(svc))
}

func (s *Server) handleGetRankings(w http.ResponseWriter, r *http.Request) {
	entries, err := s.ledger.Rankings()
	if err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rankings": rankResults(entries)})
}

func (s *Server) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := campaignIDParam(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	campaign, err := s.ledger.Campaign(id)
	if err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, campaignResult(campaign))
}

func (s *Server) handleGetContributor(w http.ResponseWriter, r *http.Request) {
	id, err := campaignIDParam(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	addr, err := addressParam(chi.URLParam(r, "addr"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	record, err := s.ledger.Contributor(id, addr)
	if err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, contributorResult(record))
}

func (s *Server) handleGetBalances(w http.ResponseWriter, r *http.Request) {
	addr, err := addressParam(chi.URLParam(r, "addr"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	balances, err := s.ledger.Balances(addr)
	if err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResult(addr, balances))
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		writeError(w, r, http.StatusServiceUnavailable, errArchiveOff)
		return
	}
	query := r.URL.Query()
	q := indexer.Query{Type: strings.TrimSpace(query.Get("type"))}
	var values [4]uint64
	for i, name := range []string{"campaign", "since", "after", "limit"} {
		raw := strings.TrimSpace(query.Get(name))
		if raw == "" {
			continue
		}
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, fmt.Errorf("%w: %s", errInvalidQuery, name))
			return
		}
		values[i] = v
		if name == "campaign" {
			id := v
			q.CampaignID = &id
		}
	}
	q.AfterSequence = values[1]
	q.AfterID = values[2]
	if values[3] > indexer.MaxLimit {
		values[3] = indexer.MaxLimit
	}
	q.Limit = int(values[3])

	records, err := s.archive.Query(r.Context(), q)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	resp := map[string]interface{}{"events": eventResults(records)}
	if len(records) > 0 {
		resp["next"] = strconv.FormatUint(records[len(records)-1].ID, 10)
	}
	writeJSON(w, http.StatusOK, resp)
}
