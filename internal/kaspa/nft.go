package kaspa

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// NFTToken is a KRC-721 token as reported by the indexer.
type NFTToken struct {
	Tick     string `json:"tick"`
	TokenID  string `json:"tokenId"`
	Owner    string `json:"owner"`
	MetaURI  string `json:"buri,omitempty"`
	Name     string `json:"name,omitempty"`
	ImageURL string `json:"image,omitempty"`
}

type nftTokenResponse struct {
	Message string    `json:"message"`
	Result  *NFTToken `json:"result"`
}

type nftListResponse struct {
	Message string     `json:"message"`
	Result  []NFTToken `json:"result"`
}

// GetNFT looks up a single KRC-721 token. tokenRef is "TICK:id".
func (c *Client) GetNFT(ctx context.Context, tokenRef string) (*NFTToken, error) {
	tick, id, err := SplitTokenRef(tokenRef)
	if err != nil {
		return nil, err
	}

	var out nftTokenResponse
	path := fmt.Sprintf("/krc721/tokens/%s/%s", url.PathEscape(tick), url.PathEscape(id))
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	if out.Result == nil {
		return nil, fmt.Errorf("token %s not found", tokenRef)
	}
	return out.Result, nil
}

// GetNFTsByOwner lists KRC-721 tokens held by an address.
func (c *Client) GetNFTsByOwner(ctx context.Context, address string) ([]NFTToken, error) {
	var out nftListResponse
	path := fmt.Sprintf("/krc721/addresses/%s/tokens", url.PathEscape(address))
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return out.Result, nil
}

// NFTOp is a single KRC-721 operation (mint or transfer) from the indexer.
type NFTOp struct {
	Op     string `json:"op"` // mint / transfer
	TxID   string `json:"txIdRev"`
	From   string `json:"from"`
	To     string `json:"to"`
	MTSAdd string `json:"mtsAdd"`
}

type nftOpsResponse struct {
	Message string  `json:"message"`
	Result  []NFTOp `json:"result"`
}

// GetNFTOps lists operations for a token, newest first.
func (c *Client) GetNFTOps(ctx context.Context, tokenRef string) ([]NFTOp, error) {
	tick, id, err := SplitTokenRef(tokenRef)
	if err != nil {
		return nil, err
	}

	var out nftOpsResponse
	path := fmt.Sprintf("/krc721/tokens/%s/%s/ops", url.PathEscape(tick), url.PathEscape(id))
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return out.Result, nil
}

// OwnsNFT reports whether the address currently holds the token.
func (c *Client) OwnsNFT(ctx context.Context, address, tokenRef string) (bool, error) {
	token, err := c.GetNFT(ctx, tokenRef)
	if err != nil {
		return false, err
	}
	return token.Owner == address, nil
}

// SplitTokenRef parses a "TICK:id" token reference.
func SplitTokenRef(ref string) (tick, id string, err error) {
	parts := strings.SplitN(ref, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid token reference %q, want TICK:id", ref)
	}
	return parts[0], parts[1], nil
}
