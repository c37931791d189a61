package camt053

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/statement-converter/internal/statement"
)

const sampleDocument = `<?xml version="1.0" encoding="UTF-8"?>
<Document xmlns="urn:iso:std:iso:20022:tech:xsd:camt.053.001.08">
  <BkToCstmrStmt>
    <GrpHdr>
      <MsgId>MSG-1</MsgId>
      <CreDtTm>2024-03-01T10:00:00</CreDtTm>
    </GrpHdr>
    <Stmt>
      <Id>STMT-2024-03</Id>
      <ElctrncSeqNb>3</ElctrncSeqNb>
      <Acct>
        <Id><IBAN>CH9300762011623852957</IBAN></Id>
        <Ccy>CHF</Ccy>
      </Acct>
      <Bal>
        <Tp><CdOrPrtry><Cd>CLBD</Cd></CdOrPrtry></Tp>
        <Amt Ccy="CHF">900.50</Amt>
        <CdtDbtInd>CRDT</CdtDbtInd>
        <Dt><Dt>2024-03-02</Dt></Dt>
      </Bal>
      <Bal>
        <Tp><CdOrPrtry><Cd>OPBD</Cd></CdOrPrtry></Tp>
        <Amt Ccy="CHF">1000.00</Amt>
        <CdtDbtInd>CRDT</CdtDbtInd>
        <Dt><Dt>2024-03-01</Dt></Dt>
      </Bal>
      <Ntry>
        <NtryRef>E1</NtryRef>
        <Amt Ccy="CHF">100.00</Amt>
        <CdtDbtInd>DBIT</CdtDbtInd>
        <Sts>BOOK</Sts>
        <BookgDt><Dt>2024-03-01</Dt></BookgDt>
        <ValDt><Dt>2024-03-02</Dt></ValDt>
        <AcctSvcrRef>SVC-1</AcctSvcrRef>
        <BkTxCd>
          <Domn><Cd>PMNT</Cd><Fmly><Cd>ICDT</Cd><SubFmlyCd>ESCT</SubFmlyCd></Fmly></Domn>
        </BkTxCd>
        <NtryDtls>
          <TxDtls>
            <Refs><EndToEndId>E2E-1</EndToEndId></Refs>
            <RltdPties>
              <Cdtr><Nm>ACME Corp</Nm></Cdtr>
              <CdtrAcct><Id><IBAN>DE89370400440532013000</IBAN></Id></CdtrAcct>
            </RltdPties>
            <RmtInf><Ustrd>Invoice 42</Ustrd><Ustrd>March</Ustrd></RmtInf>
          </TxDtls>
        </NtryDtls>
        <UnknownElement>ignored</UnknownElement>
      </Ntry>
      <Ntry>
        <Amt Ccy="CHF">0.50</Amt>
        <CdtDbtInd>CRDT</CdtDbtInd>
        <BookgDt><DtTm>2024-03-02T08:30:00+01:00</DtTm></BookgDt>
        <AcctSvcrRef>SVC-2</AcctSvcrRef>
        <BkTxCd><Prtry><Cd>NINT</Cd><Issr>BANK</Issr></Prtry></BkTxCd>
        <AddtlNtryInf>Interest</AddtlNtryInf>
      </Ntry>
    </Stmt>
  </BkToCstmrStmt>
</Document>
`

func TestParse(t *testing.T) {
	st, err := Parse(strings.NewReader(sampleDocument))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if st.ID != "STMT-2024-03" || st.AccountID != "CH9300762011623852957" || st.Currency != "CHF" {
		t.Errorf("unexpected header: %+v", st)
	}
	if st.SequenceNumber != "3" {
		t.Errorf("SequenceNumber = %q", st.SequenceNumber)
	}
	if st.OpeningBalance == nil || !st.OpeningBalance.Amount.Equal(decimal.RequireFromString("1000")) {
		t.Errorf("opening balance = %+v", st.OpeningBalance)
	}
	if st.ClosingBalance == nil || st.ClosingBalance.Date != (civil.Date{Year: 2024, Month: 3, Day: 2}) {
		t.Errorf("closing balance = %+v", st.ClosingBalance)
	}
	if len(st.Transactions) != 2 {
		t.Fatalf("got %d transactions", len(st.Transactions))
	}

	tx := st.Transactions[0]
	if tx.Reference != "E1" || tx.Direction != statement.Debit || !tx.Amount.Equal(decimal.RequireFromString("100")) {
		t.Errorf("unexpected first entry: %+v", tx)
	}
	if tx.ValueDate != (civil.Date{Year: 2024, Month: 3, Day: 2}) || tx.BookingDate != (civil.Date{Year: 2024, Month: 3, Day: 1}) {
		t.Errorf("dates = %v / %v", tx.BookingDate, tx.ValueDate)
	}
	if tx.Description != "Invoice 42\nMarch" {
		t.Errorf("Description = %q", tx.Description)
	}
	wantExtra := map[string]string{
		statement.ExtraBankReference:       "SVC-1",
		statement.ExtraBankTxDomain:        "PMNT",
		statement.ExtraBankTxFamily:        "ICDT",
		statement.ExtraBankTxSubFamily:     "ESCT",
		statement.ExtraEndToEndID:          "E2E-1",
		statement.ExtraCounterpartyName:    "ACME Corp",
		statement.ExtraCounterpartyAccount: "DE89370400440532013000",
	}
	for k, v := range wantExtra {
		if tx.Extra[k] != v {
			t.Errorf("Extra[%s] = %q, want %q", k, tx.Extra[k], v)
		}
	}

	tx = st.Transactions[1]
	if tx.Reference != "SVC-2" {
		t.Errorf("reference should fall back to AcctSvcrRef, got %q", tx.Reference)
	}
	if tx.BookingDate != tx.ValueDate || tx.BookingDate != (civil.Date{Year: 2024, Month: 3, Day: 2}) {
		t.Errorf("value date should default to booking date: %v / %v", tx.BookingDate, tx.ValueDate)
	}
	if tx.Description != "Interest" {
		t.Errorf("Description = %q", tx.Description)
	}
	if tx.Extra[statement.ExtraTypeCode] != "NINT" || tx.Extra[statement.ExtraBankTxIssuer] != "BANK" {
		t.Errorf("Extra = %v", tx.Extra)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(string) string
		wantKind error
		wantPath string
	}{
		{
			name:     "missing closing balance",
			mutate:   func(s string) string { return strings.Replace(s, "<Cd>CLBD</Cd>", "<Cd>ITBD</Cd>", 1) },
			wantKind: statement.ErrStructure,
			wantPath: "Document/BkToCstmrStmt/Stmt/Bal[Tp=CLBD]",
		},
		{
			name:     "missing opening balance",
			mutate:   func(s string) string { return strings.Replace(s, "<Cd>OPBD</Cd>", "<Cd>ITBD</Cd>", 1) },
			wantKind: statement.ErrStructure,
			wantPath: "Document/BkToCstmrStmt/Stmt/Bal[Tp=OPBD]",
		},
		{
			name: "missing account",
			mutate: func(s string) string {
				return strings.Replace(s, "<Id><IBAN>CH9300762011623852957</IBAN></Id>", "", 1)
			},
			wantKind: statement.ErrStructure,
			wantPath: "Document/BkToCstmrStmt/Stmt/Acct/Id",
		},
		{
			name:     "invalid entry amount",
			mutate:   func(s string) string { return strings.Replace(s, ">100.00<", ">1O0.00<", 1) },
			wantKind: statement.ErrInvalidAmount,
			wantPath: "Document/BkToCstmrStmt/Stmt/Ntry[1]/Amt",
		},
		{
			name:     "comma amount",
			mutate:   func(s string) string { return strings.Replace(s, ">100.00<", ">100,00<", 1) },
			wantKind: statement.ErrInvalidAmount,
			wantPath: "Document/BkToCstmrStmt/Stmt/Ntry[1]/Amt",
		},
		{
			name:     "invalid booking date",
			mutate:   func(s string) string { return strings.Replace(s, "<BookgDt><Dt>2024-03-01</Dt>", "<BookgDt><Dt>2024-02-30</Dt>", 1) },
			wantKind: statement.ErrInvalidDate,
			wantPath: "Document/BkToCstmrStmt/Stmt/Ntry[1]/BookgDt/Dt",
		},
		{
			name:     "missing booking date",
			mutate:   func(s string) string { return strings.Replace(s, "<BookgDt><Dt>2024-03-01</Dt></BookgDt>", "", 1) },
			wantKind: statement.ErrStructure,
			wantPath: "Document/BkToCstmrStmt/Stmt/Ntry[1]/BookgDt",
		},
		{
			name:     "missing indicator",
			mutate:   func(s string) string { return strings.Replace(s, "<CdtDbtInd>DBIT</CdtDbtInd>", "", 1) },
			wantKind: statement.ErrStructure,
			wantPath: "Document/BkToCstmrStmt/Stmt/Ntry[1]/CdtDbtInd",
		},
		{
			name:     "entry currency differs",
			mutate:   func(s string) string { return strings.Replace(s, `<Amt Ccy="CHF">100.00</Amt>`, `<Amt Ccy="EUR">100.00</Amt>`, 1) },
			wantKind: statement.ErrCurrencyMismatch,
			wantPath: "Document/BkToCstmrStmt/Stmt/Ntry[1]/Amt",
		},
		{
			name:     "truncated document",
			mutate:   func(s string) string { return s[:len(s)/2] },
			wantKind: statement.ErrStructure,
			wantPath: "Document",
		},
		{
			name:     "wrong root element",
			mutate:   func(s string) string { return "<Other/>" },
			wantKind: statement.ErrStructure,
			wantPath: "Document",
		},
		{
			name:     "empty input",
			mutate:   func(s string) string { return "" },
			wantKind: statement.ErrStructure,
			wantPath: "Document",
		},
		{
			name:     "no statement",
			mutate:   func(s string) string { return `<Document><BkToCstmrStmt><GrpHdr/></BkToCstmrStmt></Document>` },
			wantKind: statement.ErrStructure,
			wantPath: "Document/BkToCstmrStmt/Stmt",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, err := Parse(strings.NewReader(tt.mutate(sampleDocument)))
			if err == nil {
				t.Fatalf("expected error, got %+v", st)
			}
			if !errors.Is(err, tt.wantKind) {
				t.Errorf("error = %v, want kind %v", err, tt.wantKind)
			}
			var elemErr *statement.ElementError
			if !errors.As(err, &elemErr) {
				t.Fatalf("expected ElementError, got %T: %v", err, err)
			}
			if elemErr.Path != tt.wantPath {
				t.Errorf("Path = %q, want %q", elemErr.Path, tt.wantPath)
			}
		})
	}
}

func TestParse_IOError(t *testing.T) {
	ioErr := errors.New("read timeout")
	_, err := Parse(&failingReader{err: ioErr})
	if !errors.Is(err, ioErr) {
		t.Errorf("expected I/O error to propagate, got %v", err)
	}
}

type failingReader struct {
	err error
}

func (r *failingReader) Read(p []byte) (int, error) { return 0, r.err }

func fixedEncoder() Encoder {
	return Encoder{CreatedAt: time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)}
}

func TestSerialize(t *testing.T) {
	date := civil.Date{Year: 2024, Month: 3, Day: 1}
	st := &statement.Statement{
		ID:        "S1",
		AccountID: "12345678",
		Currency:  "EUR",
		OpeningBalance: &statement.Balance{
			Amount: decimal.RequireFromString("10"), Currency: "EUR", Date: date, Direction: statement.Credit,
		},
		ClosingBalance: &statement.Balance{
			Amount: decimal.RequireFromString("5.25"), Currency: "EUR", Date: date, Direction: statement.Credit,
		},
		Transactions: []statement.Transaction{{
			Reference:   "R1",
			Amount:      decimal.RequireFromString("4.75"),
			Direction:   statement.Debit,
			BookingDate: date,
			ValueDate:   date,
			Description: "Coffee",
			Extra:       map[string]string{"unmapped": "dropped"},
		}},
	}

	var buf bytes.Buffer
	if err := fixedEncoder().Serialize(st, &buf); err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		`<?xml version="1.0" encoding="UTF-8"?>`,
		`<Document xmlns="urn:iso:std:iso:20022:tech:xsd:camt.053.001.02">`,
		`<MsgId>S1</MsgId>`,
		`<CreDtTm>2024-03-05T12:00:00</CreDtTm>`,
		`<Othr>`,
		`<Id>12345678</Id>`,
		`<Cd>OPBD</Cd>`,
		`<Cd>CLBD</Cd>`,
		`<Amt Ccy="EUR">4.75</Amt>`,
		`<CdtDbtInd>DBIT</CdtDbtInd>`,
		`<Cd>MDOP</Cd>`,
		`<SubFmlyCd>OTHR</SubFmlyCd>`,
		`<Ustrd>Coffee</Ustrd>`,
		`<NbOfNtries>1</NbOfNtries>`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %s\n%s", want, out)
		}
	}
	if strings.Contains(out, "dropped") {
		t.Errorf("extras without a camt.053 element should be dropped:\n%s", out)
	}
}

func TestSerialize_Defaults(t *testing.T) {
	date := civil.Date{Year: 2024, Month: 3, Day: 1}
	st := &statement.Statement{
		Transactions: []statement.Transaction{
			{Amount: decimal.RequireFromString("3"), Direction: statement.Credit, BookingDate: date, ValueDate: date},
			{Amount: decimal.RequireFromString("5"), Direction: statement.Debit, BookingDate: date, ValueDate: date},
		},
	}

	var buf bytes.Buffer
	if err := fixedEncoder().Serialize(st, &buf); err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "<Id>NOTPROVIDED</Id>") {
		t.Errorf("expected placeholder identifiers:\n%s", out)
	}
	if !strings.Contains(out, `Ccy="XXX"`) {
		t.Errorf("expected XXX currency:\n%s", out)
	}

	back, err := Parse(&buf)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if back.ID != "" || back.AccountID != "" {
		t.Errorf("placeholders should map back to empty, got %q / %q", back.ID, back.AccountID)
	}
	if !back.OpeningBalance.Amount.IsZero() {
		t.Errorf("opening balance = %s", back.OpeningBalance.Amount)
	}
	if back.ClosingBalance.Direction != statement.Debit || !back.ClosingBalance.Amount.Equal(decimal.RequireFromString("2")) {
		t.Errorf("closing balance = %+v", back.ClosingBalance)
	}
	if back.Transactions[0].Extra[statement.ExtraBankTxFamily] != "MCOP" {
		t.Errorf("credit default family = %q", back.Transactions[0].Extra[statement.ExtraBankTxFamily])
	}
}

func TestSerialize_ConversionErrors(t *testing.T) {
	date := civil.Date{Year: 2024, Month: 3, Day: 1}
	tests := []struct {
		name   string
		amount string
	}{
		{"six decimals", "1.000001"},
		{"nineteen digits", "12345678901234567.89"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := &statement.Statement{ID: "S", AccountID: "A", Currency: "EUR",
				Transactions: []statement.Transaction{{Amount: decimal.RequireFromString(tt.amount), BookingDate: date}},
			}
			var buf bytes.Buffer
			err := fixedEncoder().Serialize(st, &buf)
			if !errors.Is(err, statement.ErrConversion) {
				t.Errorf("error = %v, want ErrConversion", err)
			}
			if buf.Len() != 0 {
				t.Error("nothing should be written on failure")
			}
		})
	}
}

func TestRoundTrip(t *testing.T) {
	first, err := Parse(strings.NewReader(sampleDocument))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	var buf bytes.Buffer
	if err := fixedEncoder().Serialize(first, &buf); err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}
	second, err := Parse(&buf)
	if err != nil {
		t.Fatalf("re-Parse failed: %v\n%s", err, buf.String())
	}

	if first.ID != second.ID || first.AccountID != second.AccountID || first.Currency != second.Currency {
		t.Errorf("header changed: %+v vs %+v", first, second)
	}
	if !first.ClosingBalance.Amount.Equal(second.ClosingBalance.Amount) || first.ClosingBalance.Date != second.ClosingBalance.Date {
		t.Errorf("closing balance changed")
	}
	if len(first.Transactions) != len(second.Transactions) {
		t.Fatalf("transaction count changed")
	}
	for i := range first.Transactions {
		a, b := first.Transactions[i], second.Transactions[i]
		if !a.Amount.Equal(b.Amount) || a.Direction != b.Direction || a.BookingDate != b.BookingDate ||
			a.ValueDate != b.ValueDate || a.Reference != b.Reference || a.Description != b.Description {
			t.Errorf("transaction %d changed:\n%+v\n%+v", i, a, b)
		}
		for k, v := range a.Extra {
			if b.Extra[k] != v {
				t.Errorf("transaction %d extra %s = %q, want %q", i, k, b.Extra[k], v)
			}
		}
	}
}

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"1", "1.00"},
		{"1.5", "1.50"},
		{"1.234", "1.234"},
		{"1.00000", "1.00000"},
		{"1500", "1500.00"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := formatAmount(decimal.RequireFromString(tt.in)); got != tt.want {
				t.Errorf("formatAmount(%s) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestRoundTrip_EmptyReference(t *testing.T) {
	date := civil.Date{Year: 2024, Month: 3, Day: 1}
	tests := []struct {
		name    string
		ref     string
		bankRef string
	}{
		{"bank reference only", "", "BANKREF9"},
		{"both references", "R1", "BANKREF9"},
		{"no references", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := statement.Transaction{
				Reference:   tt.ref,
				Amount:      decimal.RequireFromString("12.50"),
				Direction:   statement.Debit,
				BookingDate: date,
				ValueDate:   date,
			}
			tx.SetExtra(statement.ExtraBankReference, tt.bankRef)
			st := &statement.Statement{ID: "S1", AccountID: "A1", Currency: "EUR", Transactions: []statement.Transaction{tx}}

			var buf bytes.Buffer
			if err := fixedEncoder().Serialize(st, &buf); err != nil {
				t.Fatalf("Serialize failed: %v", err)
			}
			back, err := Parse(&buf)
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}
			got := back.Transactions[0]
			if got.Reference != tt.ref {
				t.Errorf("Reference = %q, want %q", got.Reference, tt.ref)
			}
			if got.Extra[statement.ExtraBankReference] != tt.bankRef {
				t.Errorf("bank reference = %q, want %q", got.Extra[statement.ExtraBankReference], tt.bankRef)
			}
		})
	}
}

func TestSerialize_GeneratedMessageID(t *testing.T) {
	date := civil.Date{Year: 2024, Month: 3, Day: 1}
	st := &statement.Statement{Transactions: []statement.Transaction{
		{Amount: decimal.RequireFromString("1"), Direction: statement.Credit, BookingDate: date},
	}}

	var buf bytes.Buffer
	if err := fixedEncoder().Serialize(st, &buf); err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}
	out := buf.String()
	start := strings.Index(out, "<MsgId>") + len("<MsgId>")
	end := strings.Index(out, "</MsgId>")
	if start < len("<MsgId>") || end < start {
		t.Fatalf("no MsgId in output:\n%s", out)
	}
	msgID := out[start:end]
	if len(msgID) == 0 || len(msgID) > 35 || strings.Contains(msgID, "-") {
		t.Errorf("MsgId %q does not fit Max35Text", msgID)
	}
}

func TestSerialize_LongDescription(t *testing.T) {
	date := civil.Date{Year: 2024, Month: 3, Day: 1}
	long := strings.Repeat("ü", 300)
	st := &statement.Statement{ID: "S1", AccountID: "A1", Currency: "EUR", Transactions: []statement.Transaction{{
		Amount: decimal.RequireFromString("1"), Direction: statement.Credit, BookingDate: date,
		Description: long + "\nshort",
	}}}

	var buf bytes.Buffer
	if err := fixedEncoder().Serialize(st, &buf); err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}
	back, err := Parse(&buf)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	lines := strings.Split(back.Transactions[0].Description, "\n")
	want := []string{strings.Repeat("ü", 140), strings.Repeat("ü", 140), strings.Repeat("ü", 20), "short"}
	if len(lines) != len(want) {
		t.Fatalf("got %d Ustrd lines, want %d", len(lines), len(want))
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d has %d characters, want %d", i, len([]rune(lines[i])), len([]rune(want[i])))
		}
	}
}

func TestSerialize_TextLimits(t *testing.T) {
	date := civil.Date{Year: 2024, Month: 3, Day: 1}
	tests := []struct {
		name   string
		mutate func(*statement.Statement)
	}{
		{"statement id", func(st *statement.Statement) { st.ID = strings.Repeat("S", 36) }},
		{"account id", func(st *statement.Statement) { st.AccountID = strings.Repeat("1", 35) }},
		{"reference", func(st *statement.Statement) { st.Transactions[0].Reference = strings.Repeat("R", 36) }},
		{"bank reference", func(st *statement.Statement) {
			st.Transactions[0].SetExtra(statement.ExtraBankReference, strings.Repeat("B", 36))
		}},
		{"end-to-end id", func(st *statement.Statement) {
			st.Transactions[0].SetExtra(statement.ExtraEndToEndID, strings.Repeat("E", 36))
		}},
		{"counterparty account", func(st *statement.Statement) {
			st.Transactions[0].SetExtra(statement.ExtraCounterpartyAccount, strings.Repeat("9", 35))
		}},
		{"counterparty name", func(st *statement.Statement) {
			st.Transactions[0].SetExtra(statement.ExtraCounterpartyName, strings.Repeat("N", 141))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := &statement.Statement{ID: "S1", AccountID: "A1", Currency: "EUR", Transactions: []statement.Transaction{
				{Amount: decimal.RequireFromString("1"), Direction: statement.Credit, BookingDate: date},
			}}
			tt.mutate(st)

			var buf bytes.Buffer
			err := fixedEncoder().Serialize(st, &buf)
			if !errors.Is(err, statement.ErrConversion) {
				t.Errorf("error = %v, want ErrConversion", err)
			}
			if buf.Len() != 0 {
				t.Error("nothing should be written on failure")
			}
		})
	}

	t.Run("at the limits", func(t *testing.T) {
		st := &statement.Statement{ID: strings.Repeat("S", 35), AccountID: strings.Repeat("1", 34), Currency: "EUR",
			Transactions: []statement.Transaction{{
				Reference: strings.Repeat("R", 35), Amount: decimal.RequireFromString("1"),
				Direction: statement.Credit, BookingDate: date,
			}},
		}
		if err := fixedEncoder().Serialize(st, &bytes.Buffer{}); err != nil {
			t.Errorf("Serialize failed: %v", err)
		}
	})
}
