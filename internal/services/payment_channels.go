package services

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
)

// PaymentChannel is one way to fund a top-up. Code is what clients pass as
// paymentMethod to the wallet TopUp operation.
type PaymentChannel struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	Kind     string `json:"kind"` // bank_transfer or e_wallet
	LogoData string `json:"logoData"`
}

const (
	channelLogosDir = "./static/channel-logos"
	fallbackSVG     = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 200 200"><rect width="200" height="200" fill="#f0f0f0"/><path d="M100 60c-22.1 0-40 17.9-40 40s17.9 40 40 40 40-17.9 40-40-17.9-40-40-40zm0 65c-13.8 0-25-11.2-25-25s11.2-25 25-25 25 11.2 25 25-11.2 25-25 25z" fill="#999"/><text x="100" y="170" text-anchor="middle" font-family="Arial" font-size="14" fill="#666">PAY</text></svg>`
)

var channelLogos = map[string]string{
	"bca_va":        "bca.svg",
	"bni_va":        "bni.svg",
	"bri_va":        "bri.svg",
	"mandiri_va":    "mandiri.svg",
	"permata_va":    "permata.svg",
	"bank_transfer": "bank.svg",
	"gopay":         "gopay.svg",
	"ovo":           "ovo.svg",
	"dana":          "dana.svg",
	"shopeepay":     "shopeepay.svg",
	"linkaja":       "linkaja.svg",
}

var paymentChannels = []PaymentChannel{
	{Code: "bank_transfer", Name: "Bank Transfer", Kind: "bank_transfer"},
	{Code: "bca_va", Name: "BCA Virtual Account", Kind: "bank_transfer"},
	{Code: "bni_va", Name: "BNI Virtual Account", Kind: "bank_transfer"},
	{Code: "bri_va", Name: "BRI Virtual Account", Kind: "bank_transfer"},
	{Code: "mandiri_va", Name: "Mandiri Virtual Account", Kind: "bank_transfer"},
	{Code: "permata_va", Name: "Permata Virtual Account", Kind: "bank_transfer"},
	{Code: "gopay", Name: "GoPay", Kind: "e_wallet"},
	{Code: "ovo", Name: "OVO", Kind: "e_wallet"},
	{Code: "dana", Name: "DANA", Kind: "e_wallet"},
	{Code: "shopeepay", Name: "ShopeePay", Kind: "e_wallet"},
	{Code: "linkaja", Name: "LinkAja", Kind: "e_wallet"},
}

// PaymentChannelService serves the static top-up channel catalog for the
// wallet UI.
type PaymentChannelService struct{}

func NewPaymentChannelService() *PaymentChannelService {
	return &PaymentChannelService{}
}

// IsKnownChannel reports whether a paymentMethod code is in the catalog.
func (s *PaymentChannelService) IsKnownChannel(code string) bool {
	for _, c := range paymentChannels {
		if c.Code == code {
			return true
		}
	}
	return false
}

// GetPaymentMethods lists all top-up channels with inline logos
// @Summary List payment channels
// @Description Returns the catalog of supported top-up payment channels
// @Tags wallet
// @Produce json
// @Success 200 {array} services.PaymentChannel
// @Router /payment-methods [get]
func (s *PaymentChannelService) GetPaymentMethods(w http.ResponseWriter, r *http.Request) {
	channels := make([]PaymentChannel, len(paymentChannels))
	copy(channels, paymentChannels)

	for i := range channels {
		channels[i].LogoData = s.logoData(channels[i].Code)
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	json.NewEncoder(w).Encode(channels)
}

func (s *PaymentChannelService) logoData(code string) string {
	if file, ok := channelLogos[code]; ok {
		if data, err := os.ReadFile(filepath.Join(channelLogosDir, file)); err == nil {
			return "data:image/svg+xml;base64," + base64.StdEncoding.EncodeToString(data)
		}
	}
	return "data:image/svg+xml;base64," + base64.StdEncoding.EncodeToString([]byte(fallbackSVG))
}
