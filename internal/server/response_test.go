package server

import (
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/m-mizutani/gt"
)

func TestWriteDataUnencodable(t *testing.T) {
	rec := httptest.NewRecorder()
	writeData(rec, http.StatusOK, map[string]float64{"score": math.NaN()})
	gt.Value(t, rec.Code).Equal(http.StatusInternalServerError)
	gt.String(t, rec.Body.String()).Contains(`"success":false`)
}
