package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"tribuna/internal/domain"

	"github.com/go-playground/validator/v10"
)

const maxBodyBytes = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// в ошибках поля называются так же, как в JSON
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type createBookingRequest struct {
	MatchID          int64    `json:"match_id" validate:"required,gt=0"`
	Seats            []string `json:"seats" validate:"required,min=1,dive,required,max=4"`
	TotalAmountCents int64    `json:"total_amount_cents" validate:"gte=0"`
}

type paymentRequest struct {
	Status      string `json:"status" validate:"required,oneof=paid failed"`
	Method      string `json:"method" validate:"required_if=Status paid,max=50"`
	Reference   string `json:"reference" validate:"max=100"`
	AmountCents int64  `json:"amount_cents" validate:"required_if=Status paid,gte=0"`
	Reason      string `json:"reason" validate:"max=500"`
}

type contactRequest struct {
	Name           string `json:"name" validate:"max=100"`
	Email          string `json:"email" validate:"omitempty,email"`
	TelegramChatID int64  `json:"telegram_chat_id" validate:"gte=0"`
}

type createMatchRequest struct {
	StadiumID         int64  `json:"stadium_id" validate:"required,gt=0"`
	HomeTeam          string `json:"home_team" validate:"required,max=100"`
	AwayTeam          string `json:"away_team" validate:"required,max=100"`
	Description       string `json:"description" validate:"max=500"`
	Date              string `json:"date" validate:"required,datetime=2006-01-02"`
	Time              string `json:"time" validate:"required,datetime=15:04"`
	DurationMinutes   int    `json:"duration_minutes" validate:"gte=0,lte=600"`
	VIPPriceCents     int64  `json:"vip_price_cents" validate:"required,gt=0"`
	RegularPriceCents int64  `json:"regular_price_cents" validate:"required,gt=0"`
	IsFinal           bool   `json:"is_final"`
}

type cancelMatchRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type rescheduleRequest struct {
	Date      string `json:"date" validate:"required,datetime=2006-01-02"`
	Time      string `json:"time" validate:"required,datetime=15:04"`
	StadiumID int64  `json:"stadium_id" validate:"gte=0"`
}

type closureSettingRequest struct {
	Minutes *int `json:"minutes" validate:"required,gte=0,lte=1440"`
}

type verifyRequest struct {
	TicketCode string `json:"ticket_code" validate:"required,max=64"`
}

// decodeJSON reads a JSON body into dst and validates it. Failures are validation errors.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return domain.Validation("request body is required")
		}
		return domain.Validation("invalid JSON body: %v", err)
	}
	if err := validate.Struct(dst); err != nil {
		return validationError(err)
	}
	return nil
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return domain.Validation("invalid request: %v", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msg := fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		msgs = append(msgs, msg)
	}
	return domain.Validation("invalid request: %s", strings.Join(msgs, "; "))
}

func pathID(r *http.Request, name string) (int64, error) {
	raw := r.PathValue(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.Validation("invalid %s %q", name, raw)
	}
	return id, nil
}
