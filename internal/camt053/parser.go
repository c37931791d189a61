package camt053

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/statement-converter/internal/statement"
)

const (
	// notProvided stands in for identifiers the source did not carry.
	notProvided = "NOTPROVIDED"

	rootPath = "Document"
	msgPath  = rootPath + "/BkToCstmrStmt"
	stmtPath = msgPath + "/Stmt"
)

var (
	openingCodes = []string{"OPBD", "PRCD", "OPAV"}
	closingCodes = []string{"CLBD", "CLAV"}
)

func missing(path string) error {
	return &statement.ElementError{Path: path, Err: fmt.Errorf("required element absent: %w", statement.ErrStructure)}
}

func invalid(path string, kind error, format string, args ...interface{}) error {
	return &statement.ElementError{Path: path, Err: fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), kind)}
}

// Parse reads a camt.053 document holding exactly one statement. Element order and
// unknown elements are tolerated; elements the model needs are required.
func Parse(r io.Reader) (*statement.Statement, error) {
	var doc document
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, decodeError(err)
	}

	if doc.Message == nil {
		return nil, missing(msgPath)
	}
	switch len(doc.Message.Stmt) {
	case 0:
		return nil, missing(stmtPath)
	case 1:
	default:
		return nil, invalid(stmtPath, statement.ErrStructure, "%d statements in one document", len(doc.Message.Stmt))
	}
	s := doc.Message.Stmt[0]

	st := &statement.Statement{
		ID:             placeholderToEmpty(strings.TrimSpace(s.ID)),
		SequenceNumber: strings.TrimSpace(s.ElctrncSeqNb),
	}

	if s.Acct == nil || s.Acct.ID == nil {
		return nil, missing(stmtPath + "/Acct/Id")
	}
	acctID := accountIdentifier(s.Acct.ID)
	if acctID == "" {
		return nil, missing(stmtPath + "/Acct/Id/IBAN")
	}
	st.AccountID = placeholderToEmpty(acctID)
	st.Currency = strings.TrimSpace(s.Acct.Ccy)

	opening, err := pickBalance(s.Bal, openingCodes, st.Currency)
	if err != nil {
		return nil, err
	}
	closing, err := pickBalance(s.Bal, closingCodes, st.Currency)
	if err != nil {
		return nil, err
	}
	st.OpeningBalance, st.ClosingBalance = opening, closing
	if st.Currency == "" {
		st.Currency = opening.Currency
	}

	for i, n := range s.Ntry {
		tx, err := parseEntry(fmt.Sprintf("%s/Ntry[%d]", stmtPath, i+1), n, st.Currency)
		if err != nil {
			return nil, err
		}
		st.Transactions = append(st.Transactions, tx)
	}

	if err := st.Validate(); err != nil {
		return nil, &statement.ElementError{Path: stmtPath, Err: err}
	}
	return st, nil
}

// decodeError separates malformed XML from failures of the underlying reader.
func decodeError(err error) error {
	var syntaxErr *xml.SyntaxError
	var unmarshalErr xml.UnmarshalError
	switch {
	case errors.Is(err, io.EOF):
		return invalid(rootPath, statement.ErrStructure, "empty document")
	case errors.As(err, &syntaxErr):
		return invalid(rootPath, statement.ErrStructure, "line %d: %s", syntaxErr.Line, syntaxErr.Msg)
	case errors.As(err, &unmarshalErr):
		return invalid(rootPath, statement.ErrStructure, "%s", string(unmarshalErr))
	}
	return err
}

func accountIdentifier(id *accountID) string {
	if iban := strings.TrimSpace(id.IBAN); iban != "" {
		return iban
	}
	if id.Othr != nil {
		return strings.TrimSpace(id.Othr.ID)
	}
	return ""
}

func placeholderToEmpty(s string) string {
	if s == notProvided {
		return ""
	}
	return s
}

// pickBalance returns the first balance whose type code appears in codes, honoring their order.
func pickBalance(bals []balance, codes []string, ccy string) (*statement.Balance, error) {
	for _, code := range codes {
		for i, b := range bals {
			got := strings.ToUpper(strings.TrimSpace(b.Tp.CdOrPrtry.Cd))
			if got == "" {
				got = strings.ToUpper(strings.TrimSpace(b.Tp.CdOrPrtry.Prtry))
			}
			if got != code {
				continue
			}
			return parseBalance(fmt.Sprintf("%s/Bal[%d]", stmtPath, i+1), b, ccy)
		}
	}
	return nil, missing(fmt.Sprintf("%s/Bal[Tp=%s]", stmtPath, codes[0]))
}

func parseBalance(path string, b balance, ccy string) (*statement.Balance, error) {
	if b.Amt == nil {
		return nil, missing(path + "/Amt")
	}
	amt, err := parseAmount(b.Amt.Value)
	if err != nil {
		return nil, invalid(path+"/Amt", statement.ErrInvalidAmount, "%q", b.Amt.Value)
	}
	dir, err := statement.ParseDirection(b.CdtDbtInd)
	if err != nil {
		if strings.TrimSpace(b.CdtDbtInd) == "" {
			return nil, missing(path + "/CdtDbtInd")
		}
		return nil, invalid(path+"/CdtDbtInd", statement.ErrStructure, "%q", b.CdtDbtInd)
	}
	if b.Dt == nil {
		return nil, missing(path + "/Dt")
	}
	date, err := parseDateChoice(path+"/Dt", b.Dt)
	if err != nil {
		return nil, err
	}

	balCcy := strings.TrimSpace(b.Amt.Ccy)
	if balCcy == "" {
		balCcy = ccy
	}
	return &statement.Balance{Amount: amt, Currency: balCcy, Date: date, Direction: dir}, nil
}

func parseEntry(path string, n entry, ccy string) (statement.Transaction, error) {
	var tx statement.Transaction

	if n.Amt == nil {
		return tx, missing(path + "/Amt")
	}
	amt, err := parseAmount(n.Amt.Value)
	if err != nil {
		return tx, invalid(path+"/Amt", statement.ErrInvalidAmount, "%q", n.Amt.Value)
	}
	if c := strings.TrimSpace(n.Amt.Ccy); c != "" && ccy != "" && !strings.EqualFold(c, ccy) {
		return tx, invalid(path+"/Amt", statement.ErrCurrencyMismatch, "entry currency %s, statement currency %s", c, ccy)
	}
	tx.Amount = amt

	if strings.TrimSpace(n.CdtDbtInd) == "" {
		return tx, missing(path + "/CdtDbtInd")
	}
	dir, err := statement.ParseDirection(n.CdtDbtInd)
	if err != nil {
		return tx, invalid(path+"/CdtDbtInd", statement.ErrStructure, "%q", n.CdtDbtInd)
	}
	tx.Direction = dir

	if n.BookgDt == nil {
		return tx, missing(path + "/BookgDt")
	}
	if tx.BookingDate, err = parseDateChoice(path+"/BookgDt", n.BookgDt); err != nil {
		return tx, err
	}
	tx.ValueDate = tx.BookingDate
	if n.ValDt != nil && (n.ValDt.Dt != "" || n.ValDt.DtTm != "") {
		if tx.ValueDate, err = parseDateChoice(path+"/ValDt", n.ValDt); err != nil {
			return tx, err
		}
	}

	svcrRef := strings.TrimSpace(n.AcctSvcrRef)
	tx.Reference = strings.TrimSpace(n.NtryRef)
	if tx.Reference == "" {
		tx.Reference = svcrRef
	}
	tx.Reference = placeholderToEmpty(tx.Reference)
	tx.SetExtra(statement.ExtraBankReference, svcrRef)
	if strings.EqualFold(strings.TrimSpace(n.RvslInd), "true") {
		tx.SetExtra(statement.ExtraReversal, "true")
	}

	if d := n.BkTxCd.Domn; d != nil {
		tx.SetExtra(statement.ExtraBankTxDomain, strings.TrimSpace(d.Cd))
		tx.SetExtra(statement.ExtraBankTxFamily, strings.TrimSpace(d.Fmly.Cd))
		tx.SetExtra(statement.ExtraBankTxSubFamily, strings.TrimSpace(d.Fmly.SubFmlyCd))
	}
	if p := n.BkTxCd.Prtry; p != nil {
		tx.SetExtra(statement.ExtraTypeCode, strings.TrimSpace(p.Cd))
		tx.SetExtra(statement.ExtraBankTxIssuer, strings.TrimSpace(p.Issr))
	}

	var ustrd []string
	var addtl string
	if n.NtryDtls != nil {
		for i, d := range n.NtryDtls.TxDtls {
			if d.RmtInf != nil {
				ustrd = append(ustrd, d.RmtInf.Ustrd...)
			}
			if addtl == "" {
				addtl = strings.TrimSpace(d.AddtlTxInf)
			}
			if i == 0 {
				applyDetails(&tx, d)
			}
		}
	}
	switch {
	case len(ustrd) > 0:
		tx.Description = strings.Join(ustrd, "\n")
	case addtl != "":
		tx.Description = addtl
	default:
		tx.Description = strings.TrimSpace(n.AddtlNtryInf)
	}
	return tx, nil
}

// applyDetails copies references and the counterparty of the first transaction detail.
// The counterparty is the creditor of a debit and the debtor of a credit.
func applyDetails(tx *statement.Transaction, d txDetails) {
	if d.Refs != nil {
		tx.SetExtra(statement.ExtraEndToEndID, placeholderToEmpty(strings.TrimSpace(d.Refs.EndToEndID)))
	}
	if d.RltdPties == nil {
		return
	}
	rp := d.RltdPties
	name, acct := rp.Dbtr, rp.DbtrAcct
	if tx.Direction == statement.Debit {
		name, acct = rp.Cdtr, rp.CdtrAcct
	}
	if name != nil {
		tx.SetExtra(statement.ExtraCounterpartyName, strings.TrimSpace(name.Nm))
	}
	if acct != nil {
		tx.SetExtra(statement.ExtraCounterpartyAccount, accountIdentifier(&acct.ID))
	}
}

func parseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.ContainsAny(s, ",eE") {
		return decimal.Decimal{}, fmt.Errorf("malformed amount %q", s)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if d.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("negative amount %q", s)
	}
	return d, nil
}

var dateTimeLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02T15:04:05"}

func parseDateChoice(path string, d *dateChoice) (civil.Date, error) {
	if v := strings.TrimSpace(d.Dt); v != "" {
		date, err := civil.ParseDate(v)
		if err != nil {
			return civil.Date{}, invalid(path+"/Dt", statement.ErrInvalidDate, "%q", v)
		}
		return date, nil
	}
	if v := strings.TrimSpace(d.DtTm); v != "" {
		for _, layout := range dateTimeLayouts {
			if t, err := time.Parse(layout, v); err == nil {
				return civil.DateOf(t), nil
			}
		}
		return civil.Date{}, invalid(path+"/DtTm", statement.ErrInvalidDate, "%q", v)
	}
	return civil.Date{}, missing(path + "/Dt")
}
