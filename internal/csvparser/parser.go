package csvparser

import (
	"os"

	"PulseBatch/internal/models"
)

// Parse reads a recipient CSV file from disk without a row limit.
func Parse(path string) ([]models.NewRecipient, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return ParseRecipientRows(f, 0)
}
