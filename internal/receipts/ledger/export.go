package ledger

import (
	"fmt"
	"io"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

const (
	ledgerSheet = "Ledger"
	tbSheet     = "Trial Balance"
	dateLayout  = "2006-01-02"
	// numFmtAmount is the built-in "#,##0.00" format.
	numFmtAmount = 4
)

type sheetWriter struct {
	f      *excelize.File
	sheet  string
	bold   int
	amount int
	row    int
}

func newSheetWriter(sheet string) (*sheetWriter, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		_ = f.Close()
		return nil, err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	amount, err := f.NewStyle(&excelize.Style{NumFmt: numFmtAmount})
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &sheetWriter{f: f, sheet: sheet, bold: bold, amount: amount}, nil
}

// writeRow appends values as the next row. Decimal values are written as
// numbers with the amount format.
func (s *sheetWriter) writeRow(bold bool, values ...any) error {
	s.row++
	for i, v := range values {
		cell, err := excelize.CoordinatesToCellName(i+1, s.row)
		if err != nil {
			return err
		}
		switch val := v.(type) {
		case decimal.Decimal:
			if err := s.f.SetCellFloat(s.sheet, cell, val.InexactFloat64(), 2, 64); err != nil {
				return err
			}
			if err := s.f.SetCellStyle(s.sheet, cell, cell, s.amount); err != nil {
				return err
			}
		default:
			if err := s.f.SetCellValue(s.sheet, cell, val); err != nil {
				return err
			}
		}
		if bold {
			if err := s.f.SetCellStyle(s.sheet, cell, cell, s.bold); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *sheetWriter) finish(w io.Writer, widths map[string]float64) error {
	for col, width := range widths {
		if err := s.f.SetColWidth(s.sheet, col, col, width); err != nil {
			return err
		}
	}
	return s.f.Write(w)
}

func rangeLabel(l Ledger) string {
	from, to := "beginning", "now"
	if !l.From.IsZero() {
		from = l.From.Format(dateLayout)
	}
	if !l.To.IsZero() {
		to = l.To.Format(dateLayout)
	}
	return fmt.Sprintf("%s to %s", from, to)
}

// ExportLedgerXLSX writes the ledger as a single-sheet workbook.
func ExportLedgerXLSX(w io.Writer, l Ledger) error {
	s, err := newSheetWriter(ledgerSheet)
	if err != nil {
		return err
	}
	defer s.f.Close()
	rows := [][]any{
		{fmt.Sprintf("Account ledger %s %s", l.Account.Code, l.Account.Name)},
		{"Period", rangeLabel(l)},
		{},
	}
	for _, r := range rows {
		if err := s.writeRow(false, r...); err != nil {
			return err
		}
	}
	if err := s.writeRow(true, "Date", "Document", "Description", "Branch", "Debit", "Credit", "Balance"); err != nil {
		return err
	}
	if err := s.writeRow(false, "", "", "Opening balance", "", "", "", l.Opening); err != nil {
		return err
	}
	for _, e := range l.Entries {
		if err := s.writeRow(false, e.Date.Format(dateLayout), e.DocumentNumber, e.Description, e.BranchCode, e.Debit, e.Credit, e.Balance); err != nil {
			return err
		}
	}
	if err := s.writeRow(true, "", "", "Closing balance", "", l.TotalDebit, l.TotalCredit, l.Closing); err != nil {
		return err
	}
	return s.finish(w, map[string]float64{"A": 12, "B": 16, "C": 48, "D": 10, "E": 14, "F": 14, "G": 14})
}

// ExportTrialBalanceXLSX writes the trial balance grouped by heading.
func ExportTrialBalanceXLSX(w io.Writer, tb TrialBalance) error {
	s, err := newSheetWriter(tbSheet)
	if err != nil {
		return err
	}
	defer s.f.Close()
	status := "balanced"
	if !tb.Balanced {
		status = "NOT balanced"
	}
	header := [][]any{
		{"Trial balance"},
		{"Period", fmt.Sprintf("%s to %s", tb.From.Format(dateLayout), tb.To.Format(dateLayout))},
		{"Status", status},
		{},
	}
	for _, r := range header {
		if err := s.writeRow(false, r...); err != nil {
			return err
		}
	}
	if err := s.writeRow(true, "Code", "Account", "Opening", "Debit", "Credit", "Closing"); err != nil {
		return err
	}
	for _, grp := range tb.Groups {
		for _, acc := range grp.Accounts {
			if err := s.writeRow(false, acc.Code, acc.Name, acc.Opening, acc.Debit, acc.Credit, acc.Closing); err != nil {
				return err
			}
		}
		if err := s.writeRow(true, grp.Key, "Subtotal", grp.Opening, grp.Debit, grp.Credit, grp.Closing); err != nil {
			return err
		}
	}
	if err := s.writeRow(true, "", "Total", tb.TotalOpening, tb.TotalDebit, tb.TotalCredit, tb.TotalClosing); err != nil {
		return err
	}
	return s.finish(w, map[string]float64{"A": 10, "B": 36, "C": 14, "D": 14, "E": 14, "F": 14})
}
