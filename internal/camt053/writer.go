package camt053

import (
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/statement-converter/internal/statement"
)

const (
	// noCurrency is the ISO 4217 code for transactions without a currency.
	noCurrency = "XXX"

	maxFractionDigits = 5
	maxTotalDigits    = 18

	dateTimeLayout = "2006-01-02T15:04:05"

	maxIdentifierLength = 35
	maxAccountIDLength  = 34
	maxTextLength       = 140
)

var ibanPattern = regexp.MustCompile(`^[A-Z]{2}[0-9]{2}[A-Z0-9]{11,30}$`)

// Encoder writes camt.053 documents. CreatedAt stamps the group header and the
// statement; the zero value means the current time.
type Encoder struct {
	CreatedAt time.Time
}

// Serialize writes st with a default Encoder.
func Serialize(st *statement.Statement, w io.Writer) error {
	return Encoder{}.Serialize(st, w)
}

// Serialize writes st as a single-statement document. Optional model fields are
// filled with defaults; extras without a camt.053 element are dropped.
func (e Encoder) Serialize(st *statement.Statement, w io.Writer) error {
	doc, err := e.build(st)
	if err != nil {
		return err
	}
	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	if _, err := w.Write(out); err != nil {
		return err
	}
	_, err = io.WriteString(w, "\n")
	return err
}

func (e Encoder) build(st *statement.Statement) (*document, error) {
	if err := st.Validate(); err != nil {
		return nil, err
	}

	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	createdAt := created.Format(dateTimeLayout)

	ccy := strings.ToUpper(st.ResolvedCurrency())
	if ccy == "" {
		ccy = noCurrency
	}

	if err := checkText("statement id", st.ID, maxIdentifierLength); err != nil {
		return nil, err
	}
	stmtID := st.ID
	if stmtID == "" {
		stmtID = notProvided
	}
	msgID := st.ID
	if msgID == "" {
		msgID = strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	acctID, err := buildAccountID(st.AccountID)
	if err != nil {
		return nil, err
	}

	s := stmt{
		ID:           stmtID,
		ElctrncSeqNb: sequenceNumber(st.SequenceNumber),
		CreDtTm:      createdAt,
		Acct:         &account{ID: acctID, Ccy: ccy},
	}

	opening, closing := fillBalances(st, civil.DateOf(created))
	for _, b := range []struct {
		code string
		bal  statement.Balance
	}{{"OPBD", opening}, {"CLBD", closing}} {
		bal, err := buildBalance(b.code, b.bal, ccy)
		if err != nil {
			return nil, err
		}
		s.Bal = append(s.Bal, bal)
	}

	sum := decimal.Zero
	net := decimal.Zero
	for i, tx := range st.Transactions {
		n, err := buildEntry(tx, ccy)
		if err != nil {
			return nil, fmt.Errorf("transaction %d: %w", i, err)
		}
		s.Ntry = append(s.Ntry, n)
		sum = sum.Add(tx.Amount)
		net = net.Add(tx.Signed())
	}

	netDir := statement.Credit
	if net.IsNegative() {
		netDir = statement.Debit
	}
	s.TxsSummry = &txsSummary{TtlNtries: totalEntries{
		NbOfNtries:    strconv.Itoa(len(st.Transactions)),
		Sum:           formatAmount(sum),
		TtlNetNtryAmt: formatAmount(net.Abs()),
		CdtDbtInd:     netDir.ISOCode(),
	}}

	return &document{
		Xmlns: Namespace,
		Message: &bankToCustomer{
			GrpHdr: groupHeader{MsgID: msgID, CreDtTm: createdAt},
			Stmt:   []stmt{s},
		},
	}, nil
}

// sequenceNumber keeps the leading digits of an MT940-style "00001/001" number.
func sequenceNumber(s string) string {
	end := strings.IndexFunc(s, func(r rune) bool { return r < '0' || r > '9' })
	if end < 0 {
		end = len(s)
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return ""
	}
	return strconv.Itoa(n)
}

func buildAccountID(acct string) (*accountID, error) {
	compact := strings.ToUpper(strings.ReplaceAll(acct, " ", ""))
	if ibanPattern.MatchString(compact) {
		return &accountID{IBAN: compact}, nil
	}
	if acct == "" {
		acct = notProvided
	}
	if err := checkText("account id", acct, maxAccountIDLength); err != nil {
		return nil, err
	}
	return &accountID{Othr: &genericID{ID: acct}}, nil
}

// fillBalances defaults a missing opening balance to zero at the first booking date and
// a missing closing balance to the opening balance plus the net movement.
func fillBalances(st *statement.Statement, fallback civil.Date) (statement.Balance, statement.Balance) {
	first, last := fallback, fallback
	if n := len(st.Transactions); n > 0 {
		first, last = st.Transactions[0].BookingDate, st.Transactions[n-1].BookingDate
	}

	var opening statement.Balance
	if st.OpeningBalance != nil {
		opening = *st.OpeningBalance
	} else {
		opening = statement.Balance{Amount: decimal.Zero, Date: first, Direction: statement.Credit}
	}

	if st.ClosingBalance != nil {
		return opening, *st.ClosingBalance
	}
	total := opening.Signed()
	for _, tx := range st.Transactions {
		total = total.Add(tx.Signed())
	}
	closing := statement.Balance{Amount: total.Abs(), Currency: opening.Currency, Date: last, Direction: statement.Credit}
	if total.IsNegative() {
		closing.Direction = statement.Debit
	}
	return opening, closing
}

func buildBalance(code string, b statement.Balance, ccy string) (balance, error) {
	if err := checkAmount(b.Amount); err != nil {
		return balance{}, fmt.Errorf("balance %s: %w", code, err)
	}
	if !b.Date.IsValid() {
		return balance{}, fmt.Errorf("balance %s: date %s: %w", code, b.Date, statement.ErrConversion)
	}
	dir := b.Direction
	if b.Amount.IsNegative() {
		dir = dir.Opposite()
	}
	balCcy := strings.ToUpper(b.Currency)
	if balCcy == "" {
		balCcy = ccy
	}
	return balance{
		Tp:        balanceType{CdOrPrtry: codeOrProprietary{Cd: code}},
		Amt:       &amount{Value: formatAmount(b.Amount.Abs()), Ccy: balCcy},
		CdtDbtInd: dir.ISOCode(),
		Dt:        &dateChoice{Dt: b.Date.String()},
	}, nil
}

func buildEntry(tx statement.Transaction, ccy string) (entry, error) {
	if err := checkAmount(tx.Amount); err != nil {
		return entry{}, err
	}
	booking := tx.BookingDate
	if !booking.IsValid() {
		return entry{}, fmt.Errorf("booking date %s: %w", booking, statement.ErrConversion)
	}
	value := tx.ValueDate
	if !value.IsValid() {
		value = booking
	}

	svcrRef := tx.Extra[statement.ExtraBankReference]
	for _, f := range []struct{ name, value string }{
		{"reference", tx.Reference},
		{"bank reference", svcrRef},
		{"end-to-end id", tx.Extra[statement.ExtraEndToEndID]},
		{"type code", tx.Extra[statement.ExtraTypeCode]},
		{"type code issuer", tx.Extra[statement.ExtraBankTxIssuer]},
	} {
		if err := checkText(f.name, f.value, maxIdentifierLength); err != nil {
			return entry{}, err
		}
	}

	// An empty NtryRef next to an AcctSvcrRef would read back as that reference.
	ref := tx.Reference
	if ref == "" && svcrRef != "" {
		ref = notProvided
	}

	n := entry{
		NtryRef:     ref,
		Amt:         &amount{Value: formatAmount(tx.Amount), Ccy: ccy},
		CdtDbtInd:   tx.Direction.ISOCode(),
		Sts:         "BOOK",
		BookgDt:     &dateChoice{Dt: booking.String()},
		ValDt:       &dateChoice{Dt: value.String()},
		AcctSvcrRef: svcrRef,
		BkTxCd:      buildBankTxCode(tx),
	}
	if tx.Extra[statement.ExtraReversal] == "true" {
		n.RvslInd = "true"
	}

	var d txDetails
	if id := tx.Extra[statement.ExtraEndToEndID]; id != "" {
		d.Refs = &references{EndToEndID: id}
	}
	rp, err := buildRelatedParties(tx)
	if err != nil {
		return entry{}, err
	}
	d.RltdPties = rp
	if tx.Description != "" {
		d.RmtInf = &remittanceInfo{Ustrd: remittanceLines(tx.Description)}
	}
	if d.Refs != nil || d.RltdPties != nil || d.RmtInf != nil {
		n.NtryDtls = &entryDetails{TxDtls: []txDetails{d}}
	}
	return n, nil
}

// buildBankTxCode emits the structured domain code when known and the proprietary
// code for a type code. Without either, the generic PMNT/MCOP|MDOP/OTHR code is used.
func buildBankTxCode(tx statement.Transaction) bankTxCode {
	var code bankTxCode
	typeCode := tx.Extra[statement.ExtraTypeCode]
	if typeCode != "" {
		code.Prtry = &proprietaryCode{Cd: typeCode, Issr: tx.Extra[statement.ExtraBankTxIssuer]}
	}

	dom := tx.Extra[statement.ExtraBankTxDomain]
	if dom == "" && typeCode != "" {
		return code
	}
	if dom == "" {
		dom = "PMNT"
	}
	fam := tx.Extra[statement.ExtraBankTxFamily]
	if fam == "" {
		fam = "MCOP"
		if tx.Direction == statement.Debit {
			fam = "MDOP"
		}
	}
	sub := tx.Extra[statement.ExtraBankTxSubFamily]
	if sub == "" {
		sub = "OTHR"
	}
	code.Domn = &domain{Cd: dom, Fmly: family{Cd: fam, SubFmlyCd: sub}}
	return code
}

func buildRelatedParties(tx statement.Transaction) (*relatedParties, error) {
	name := tx.Extra[statement.ExtraCounterpartyName]
	acct := tx.Extra[statement.ExtraCounterpartyAccount]
	if name == "" && acct == "" {
		return nil, nil
	}

	var p *party
	if name != "" {
		if err := checkText("counterparty name", name, maxTextLength); err != nil {
			return nil, err
		}
		p = &party{Nm: name}
	}
	var a *cashAccount
	if acct != "" {
		id, err := buildAccountID(acct)
		if err != nil {
			return nil, fmt.Errorf("counterparty: %w", err)
		}
		a = &cashAccount{ID: *id}
	}

	if tx.Direction == statement.Debit {
		return &relatedParties{Cdtr: p, CdtrAcct: a}, nil
	}
	return &relatedParties{Dbtr: p, DbtrAcct: a}, nil
}

// remittanceLines splits a description into Ustrd lines, wrapping lines longer
// than the Max140Text limit.
func remittanceLines(description string) []string {
	var out []string
	for _, line := range strings.Split(description, "\n") {
		for utf8.RuneCountInString(line) > maxTextLength {
			cut := 0
			for i := 0; i < maxTextLength; i++ {
				_, size := utf8.DecodeRuneInString(line[cut:])
				cut += size
			}
			out = append(out, line[:cut])
			line = line[cut:]
		}
		out = append(out, line)
	}
	return out
}

func checkText(field, s string, limit int) error {
	if n := utf8.RuneCountInString(s); n > limit {
		return fmt.Errorf("%s %q has %d characters, more than %d: %w", field, s, n, limit, statement.ErrConversion)
	}
	return nil
}

// checkAmount enforces the ActiveOrHistoricCurrencyAndAmount limits.
func checkAmount(d decimal.Decimal) error {
	abs := d.Abs()
	if !abs.Round(maxFractionDigits).Equal(abs) {
		return fmt.Errorf("amount %s has more than %d decimals: %w", d, maxFractionDigits, statement.ErrConversion)
	}
	digits := strings.Replace(strings.TrimLeft(formatAmount(abs), "0"), ".", "", 1)
	if len(digits) > maxTotalDigits {
		return fmt.Errorf("amount %s has more than %d digits: %w", d, maxTotalDigits, statement.ErrConversion)
	}
	return nil
}

// formatAmount renders between two and five decimals with a dot separator.
func formatAmount(d decimal.Decimal) string {
	places := int32(2)
	if exp := -d.Exponent(); exp > places {
		places = min(exp, maxFractionDigits)
	}
	return d.StringFixed(places)
}
