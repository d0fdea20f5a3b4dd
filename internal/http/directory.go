package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"gitea.jw6.us/james/dialer/internal/contacts"
	httperrors "gitea.jw6.us/james/dialer/internal/http/errors"
	"gitea.jw6.us/james/dialer/internal/store"
)

const maxImportBytes = 5 << 20

func (a *api) listCallLog(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			httperrors.BadRequestError(w, r, err, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	rows, err := a.CallLog.List(r.Context(), r.URL.Query().Get("q"), limit)
	if err != nil {
		httperrors.InternalError(w, r, err, "failed to list call log")
		return
	}
	httperrors.WriteJSON(w, http.StatusOK, rows)
}

func (a *api) listContacts(w http.ResponseWriter, r *http.Request) {
	list, err := a.Directory.List(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		httperrors.InternalError(w, r, err, "failed to list contacts")
		return
	}
	httperrors.WriteJSON(w, http.StatusOK, list)
}

func (a *api) importContacts(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxImportBytes+1))
	if err != nil {
		httperrors.BadRequestError(w, r, err, "failed to read body")
		return
	}
	if len(body) > maxImportBytes {
		httperrors.Error(w, http.StatusRequestEntityTooLarge, "import too large")
		return
	}

	n, err := a.Directory.Import(r.Context(), string(body))
	if errors.Is(err, contacts.ErrNoCards) {
		httperrors.BadRequestError(w, r, err, "no vCards found")
		return
	}
	if err != nil {
		httperrors.InternalError(w, r, err, "failed to import contacts")
		return
	}
	httperrors.WriteJSON(w, http.StatusOK, map[string]int{"imported": n})
}

func (a *api) contactVCard(w http.ResponseWriter, r *http.Request) {
	id, ok := contactID(w, r)
	if !ok {
		return
	}
	card, err := a.Directory.VCard(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		httperrors.NotFound(w, "contact not found")
		return
	}
	if err != nil {
		httperrors.InternalError(w, r, err, "failed to export contact")
		return
	}
	w.Header().Set("Content-Type", "text/vcard; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename=\"contact-"+strconv.FormatInt(id, 10)+".vcf\"")
	_, _ = io.WriteString(w, card)
}

func (a *api) setStarred(w http.ResponseWriter, r *http.Request) {
	id, ok := contactID(w, r)
	if !ok {
		return
	}
	var body struct {
		Starred *bool `json:"starred"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Starred == nil {
		httperrors.BadRequestError(w, r, err, `expected {"starred": true|false}`)
		return
	}
	err := a.Directory.SetStarred(r.Context(), id, *body.Starred)
	if errors.Is(err, store.ErrNotFound) {
		httperrors.NotFound(w, "contact not found")
		return
	}
	if err != nil {
		httperrors.InternalError(w, r, err, "failed to update contact")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) deleteContact(w http.ResponseWriter, r *http.Request) {
	id, ok := contactID(w, r)
	if !ok {
		return
	}
	err := a.Directory.Delete(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		httperrors.NotFound(w, "contact not found")
		return
	}
	if err != nil {
		httperrors.InternalError(w, r, err, "failed to delete contact")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) lookup(w http.ResponseWriter, r *http.Request) {
	m, err := a.Directory.Lookup(r.Context(), r.URL.Query().Get("number"))
	if err != nil {
		httperrors.InternalError(w, r, err, "failed to look up number")
		return
	}
	httperrors.WriteJSON(w, http.StatusOK, m)
}

type blockedView struct {
	Number    string    `json:"number"`
	CreatedAt time.Time `json:"created_at"`
}

func (a *api) listBlocked(w http.ResponseWriter, r *http.Request) {
	list, err := a.Directory.Blocked(r.Context())
	if err != nil {
		httperrors.InternalError(w, r, err, "failed to list blocked numbers")
		return
	}
	out := make([]blockedView, 0, len(list))
	for _, b := range list {
		out = append(out, blockedView{Number: b.Number, CreatedAt: b.CreatedAt})
	}
	httperrors.WriteJSON(w, http.StatusOK, out)
}

func (a *api) block(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Number string `json:"number"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httperrors.BadRequestError(w, r, err, "invalid JSON body")
		return
	}
	normalized, err := a.Directory.Block(r.Context(), body.Number)
	if errors.Is(err, contacts.ErrInvalidNumber) {
		httperrors.BadRequestError(w, r, err, "invalid phone number")
		return
	}
	if err != nil {
		httperrors.InternalError(w, r, err, "failed to block number")
		return
	}
	httperrors.WriteJSON(w, http.StatusCreated, map[string]string{"number": normalized})
}

func (a *api) unblock(w http.ResponseWriter, r *http.Request) {
	number, err := url.PathUnescape(chi.URLParam(r, "number"))
	if err != nil {
		httperrors.BadRequestError(w, r, err, "invalid number")
		return
	}
	err = a.Directory.Unblock(r.Context(), number)
	switch {
	case errors.Is(err, contacts.ErrInvalidNumber):
		httperrors.BadRequestError(w, r, err, "invalid phone number")
	case errors.Is(err, store.ErrNotFound):
		httperrors.NotFound(w, "number is not blocked")
	case err != nil:
		httperrors.InternalError(w, r, err, "failed to unblock number")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func contactID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(chi.URLParam(r, "id")), 10, 64)
	if err != nil || id <= 0 {
		httperrors.BadRequestError(w, r, err, "invalid contact id")
		return 0, false
	}
	return id, true
}
