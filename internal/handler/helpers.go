package handler

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strconv"
)

var timeSlotRegexp = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

func parseIDParam(r *http.Request) (int64, error) {
	idStr := r.PathValue("id")
	return strconv.ParseInt(idStr, 10, 64)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// validTimeSlot accepts a nil slot or an HH:MM wall-clock time.
func validTimeSlot(slot *string) bool {
	return slot == nil || timeSlotRegexp.MatchString(*slot)
}
