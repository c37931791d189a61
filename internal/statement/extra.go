package statement

// Well-known keys of Transaction.Extra. Codecs that have a structural home for one of
// these read and write it there; everything else travels as free-form sub-fields.
const (
	ExtraTypeCode            = "type_code"
	ExtraBankReference       = "bank_reference"
	ExtraFundsCode           = "funds_code"
	ExtraReversal            = "reversal"
	ExtraSupplementary       = "supplementary_details"
	ExtraBankTxDomain        = "bank_tx_domain"
	ExtraBankTxFamily        = "bank_tx_family"
	ExtraBankTxSubFamily     = "bank_tx_subfamily"
	ExtraBankTxIssuer        = "bank_tx_issuer"
	ExtraEndToEndID          = "end_to_end_id"
	ExtraCounterpartyName    = "counterparty_name"
	ExtraCounterpartyAccount = "counterparty_account"
)
