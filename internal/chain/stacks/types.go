package stacks

// Wire types for the Stacks-style extended API. Only the fields the
// node consumes are decoded.

type blockListResponse struct {
	Results []blockResponse `json:"results"`
}

type blockResponse struct {
	Hash            string `json:"hash"`
	Height          int64  `json:"height"`
	ParentBlockHash string `json:"parent_block_hash"`
	BurnBlockHash   string `json:"burn_block_hash"`
	BurnBlockTime   string `json:"burn_block_time_iso"`
}

type txListResponse struct {
	Results []txResponse `json:"results"`
}

type txResponse struct {
	TxID          string `json:"tx_id"`
	SenderAddress string `json:"sender_address"`
	TxType        string `json:"tx_type"`
}
