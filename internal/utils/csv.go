package utils

import (
	"encoding/csv"
	"os"
	"strconv"
	"time"

	"github.com/berkekorucu/tradebot/internal/domain"
)

// WriteTradesToCSV exports ledger entries for offline analysis.
func WriteTradesToCSV(records []*domain.TradeRecord, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	writer.Write([]string{"id", "time", "symbol", "side", "kind", "price", "quantity", "leverage", "pnl"})

	for _, r := range records {
		writer.Write([]string{
			strconv.FormatInt(r.ID, 10),
			r.Time.Format(time.RFC3339),
			r.Symbol,
			string(r.Side),
			string(r.Kind),
			strconv.FormatFloat(r.Price, 'f', -1, 64),
			strconv.FormatFloat(r.Quantity, 'f', -1, 64),
			strconv.Itoa(r.Leverage),
			strconv.FormatFloat(r.PNL, 'f', -1, 64),
		})
	}
	return writer.Error()
}
