package types

// SwapKind tells which side of the swap is fixed
type SwapKind string

const (
	ExactIn  SwapKind = "exact_in"
	ExactOut SwapKind = "exact_out"
)

// SwapRequest represents a user's swap command before token resolution
type SwapRequest struct {
	Amount      string
	SourceToken string
	DestToken   string
	ChainID     string
	Recipient   string
	Kind        SwapKind
}
