package purchase

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/skip2/go-qrcode"
)

type Receipt struct {
	PNR           string    `json:"pnr"`
	ReservationID string    `json:"reservation_id"`
	ProductID     string    `json:"product_id"`
	From          string    `json:"from"`
	To            string    `json:"to"`
	DepartureTime time.Time `json:"departure_time"`
	Seats         []string  `json:"seats"`
	Passenger     string    `json:"passenger"`
	Total         float64   `json:"total"`
	IssuedAt      time.Time `json:"issued_at"`

	QRCode []byte `json:"-"` // PNG
}

// boardingPass is what the QR code carries.
type boardingPass struct {
	PNR       string   `json:"pnr"`
	ProductID string   `json:"product_id"`
	Seats     []string `json:"seats"`
	Passenger string   `json:"passenger"`
}

// ReceiptGenerator renders the boarding QR code of a receipt. With a secret the
// payload is encrypted so that only the operator's scanners can read it.
type ReceiptGenerator struct {
	secret []byte
	size   int
}

func NewReceiptGenerator(secret string) *ReceiptGenerator {
	g := &ReceiptGenerator{size: 256}
	if secret != "" {
		hashed := sha256.Sum256([]byte(secret)) // normalize to 32 bytes
		g.secret = hashed[:]
	}
	return g
}

func (g *ReceiptGenerator) Attach(r *Receipt) error {
	if r.IssuedAt.IsZero() {
		r.IssuedAt = time.Now().UTC()
	}
	data, err := json.Marshal(boardingPass{
		PNR:       r.PNR,
		ProductID: r.ProductID,
		Seats:     r.Seats,
		Passenger: r.Passenger,
	})
	if err != nil {
		return err
	}

	content := string(data)
	if g.secret != nil {
		if content, err = encryptAES(data, g.secret); err != nil {
			return fmt.Errorf("failed to encrypt boarding pass: %w", err)
		}
	}

	png, err := qrcode.Encode(content, qrcode.Medium, g.size)
	if err != nil {
		return fmt.Errorf("failed to encode QR code: %w", err)
	}
	r.QRCode = png
	return nil
}

// WriteQR stores the QR code as <dir>/<PNR>.png and returns the path.
func (r *Receipt) WriteQR(dir string) (string, error) {
	if len(r.QRCode) == 0 {
		return "", fmt.Errorf("receipt %s has no QR code", r.PNR)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create receipt directory: %w", err)
	}
	path := filepath.Join(dir, r.PNR+".png")
	if err := os.WriteFile(path, r.QRCode, 0644); err != nil {
		return "", err
	}
	return path, nil
}

func encryptAES(data []byte, key []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	ciphertext := make([]byte, aes.BlockSize+len(data))
	iv := ciphertext[:aes.BlockSize]

	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", err
	}

	stream := cipher.NewCFBEncrypter(block, iv)
	stream.XORKeyStream(ciphertext[aes.BlockSize:], data)

	return base64.URLEncoding.EncodeToString(ciphertext), nil
}
