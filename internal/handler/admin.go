package handler

import "net/http"

// AdminHandler exposes read-only account state for operators.
type AdminHandler struct {
	ledger Ledger
}

func NewAdminHandler(l Ledger) *AdminHandler {
	return &AdminHandler{ledger: l}
}

// AccountResponse is the admin view of one account.
type AccountResponse struct {
	Account string `json:"account"`
	Balance int64  `json:"balance"`
	Exists  bool   `json:"exists"`
	Locked  bool   `json:"locked"`
}

// ServeHTTP reads ?account= and returns its balance and lock state without
// taking the lock.
func (a *AdminHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	account := r.URL.Query().Get("account")
	if account == "" {
		writeError(w, http.StatusBadRequest, "missing_params", "account is required", r.Header.Get("X-Request-ID"))
		return
	}
	st, err := a.ledger.Inspect(r.Context(), account)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_error", err.Error(), r.Header.Get("X-Request-ID"))
		return
	}
	writeJSON(w, http.StatusOK, AccountResponse{
		Account: st.Account,
		Balance: st.Balance,
		Exists:  st.Exists,
		Locked:  st.Locked,
	})
}
