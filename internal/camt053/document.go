// Package camt053 reads and writes ISO 20022 Bank-to-Customer Statement (camt.053) documents.
package camt053

import "encoding/xml"

// Namespace written on output. Any version is accepted on input because
// elements are matched by local name.
const Namespace = "urn:iso:std:iso:20022:tech:xsd:camt.053.001.02"

type document struct {
	XMLName xml.Name        `xml:"Document"`
	Xmlns   string          `xml:"xmlns,attr,omitempty"`
	Message *bankToCustomer `xml:"BkToCstmrStmt"`
}

type bankToCustomer struct {
	GrpHdr groupHeader `xml:"GrpHdr"`
	Stmt   []stmt      `xml:"Stmt"`
}

type groupHeader struct {
	MsgID   string `xml:"MsgId"`
	CreDtTm string `xml:"CreDtTm"`
}

type stmt struct {
	ID           string      `xml:"Id"`
	ElctrncSeqNb string      `xml:"ElctrncSeqNb,omitempty"`
	CreDtTm      string      `xml:"CreDtTm,omitempty"`
	Acct         *account    `xml:"Acct"`
	Bal          []balance   `xml:"Bal"`
	TxsSummry    *txsSummary `xml:"TxsSummry,omitempty"`
	Ntry         []entry     `xml:"Ntry"`
}

type account struct {
	ID  *accountID `xml:"Id"`
	Ccy string     `xml:"Ccy,omitempty"`
}

type accountID struct {
	IBAN string     `xml:"IBAN,omitempty"`
	Othr *genericID `xml:"Othr,omitempty"`
}

type genericID struct {
	ID string `xml:"Id"`
}

type balance struct {
	Tp        balanceType `xml:"Tp"`
	Amt       *amount     `xml:"Amt"`
	CdtDbtInd string      `xml:"CdtDbtInd"`
	Dt        *dateChoice `xml:"Dt"`
}

type balanceType struct {
	CdOrPrtry codeOrProprietary `xml:"CdOrPrtry"`
}

type codeOrProprietary struct {
	Cd    string `xml:"Cd,omitempty"`
	Prtry string `xml:"Prtry,omitempty"`
}

type amount struct {
	Value string `xml:",chardata"`
	Ccy   string `xml:"Ccy,attr"`
}

type dateChoice struct {
	Dt   string `xml:"Dt,omitempty"`
	DtTm string `xml:"DtTm,omitempty"`
}

type txsSummary struct {
	TtlNtries totalEntries `xml:"TtlNtries"`
}

type totalEntries struct {
	NbOfNtries    string `xml:"NbOfNtries"`
	Sum           string `xml:"Sum"`
	TtlNetNtryAmt string `xml:"TtlNetNtryAmt"`
	CdtDbtInd     string `xml:"CdtDbtInd"`
}

type entry struct {
	NtryRef      string        `xml:"NtryRef,omitempty"`
	Amt          *amount       `xml:"Amt"`
	CdtDbtInd    string        `xml:"CdtDbtInd"`
	RvslInd      string        `xml:"RvslInd,omitempty"`
	Sts          string        `xml:"Sts"`
	BookgDt      *dateChoice   `xml:"BookgDt"`
	ValDt        *dateChoice   `xml:"ValDt,omitempty"`
	AcctSvcrRef  string        `xml:"AcctSvcrRef,omitempty"`
	BkTxCd       bankTxCode    `xml:"BkTxCd"`
	NtryDtls     *entryDetails `xml:"NtryDtls,omitempty"`
	AddtlNtryInf string        `xml:"AddtlNtryInf,omitempty"`
}

type bankTxCode struct {
	Domn  *domain          `xml:"Domn,omitempty"`
	Prtry *proprietaryCode `xml:"Prtry,omitempty"`
}

type domain struct {
	Cd   string `xml:"Cd"`
	Fmly family `xml:"Fmly"`
}

type family struct {
	Cd        string `xml:"Cd"`
	SubFmlyCd string `xml:"SubFmlyCd"`
}

type proprietaryCode struct {
	Cd   string `xml:"Cd"`
	Issr string `xml:"Issr,omitempty"`
}

type entryDetails struct {
	TxDtls []txDetails `xml:"TxDtls"`
}

type txDetails struct {
	Refs       *references     `xml:"Refs,omitempty"`
	RltdPties  *relatedParties `xml:"RltdPties,omitempty"`
	RmtInf     *remittanceInfo `xml:"RmtInf,omitempty"`
	AddtlTxInf string          `xml:"AddtlTxInf,omitempty"`
}

type references struct {
	EndToEndID string `xml:"EndToEndId,omitempty"`
}

type relatedParties struct {
	Dbtr     *party       `xml:"Dbtr,omitempty"`
	DbtrAcct *cashAccount `xml:"DbtrAcct,omitempty"`
	Cdtr     *party       `xml:"Cdtr,omitempty"`
	CdtrAcct *cashAccount `xml:"CdtrAcct,omitempty"`
}

type party struct {
	Nm string `xml:"Nm,omitempty"`
}

type cashAccount struct {
	ID accountID `xml:"Id"`
}

type remittanceInfo struct {
	Ustrd []string `xml:"Ustrd"`
}
