// Package ensemble implements Ensemble Vote (SPEC_FULL.md §4.P/§4.X):
// fanning a decision question out to N vote providers over gRPC, weighting
// and tallying their answers, and flagging disagreement. Grounded on the
// teacher's internal/strategy/grpc_client.go single-provider gRPC bridge,
// generalized to a provider pool with no compiled service stub: requests
// and responses travel as google.golang.org/protobuf well-known Struct
// values over grpc.ClientConn.Invoke, so adding a provider needs no codegen.
package ensemble

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

const voteMethod = "/ensemble.VoteService/Vote"

// Transport dials a single provider's gRPC endpoint and issues vote calls.
type Transport struct {
	conn *grpc.ClientConn
}

// Dial opens an insecure gRPC connection to addr. Providers run behind the
// operator's own network boundary (§4.W covers credential-bearing outbound
// calls separately); TLS termination is left to a sidecar, matching the
// teacher's dev-mode dial options.
func Dial(addr string) (*Transport, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("ensemble: dial %s: %w", addr, err)
	}
	return &Transport{conn: conn}, nil
}

// Close releases the underlying connection.
func (t *Transport) Close() error {
	if t.conn == nil {
		return nil
	}
	return t.conn.Close()
}

// invokeVote sends {symbol, category, context} and expects back
// {decision, confidence, reasoning} as a protobuf Struct, per §6's
// chat-completion-style opaque vote contract.
func (t *Transport) invokeVote(ctx context.Context, timeout time.Duration, symbol, category, payload string) (decision string, confidence float64, reasoning string, err error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := structpb.NewStruct(map[string]any{
		"symbol":   symbol,
		"category": category,
		"context":  payload,
	})
	if err != nil {
		return "", 0, "", fmt.Errorf("ensemble: build request: %w", err)
	}

	resp := &structpb.Struct{}
	if err := t.conn.Invoke(ctx, voteMethod, req, resp); err != nil {
		return "", 0, "", err
	}

	fields := resp.GetFields()
	decision = fields["decision"].GetStringValue()
	confidence = fields["confidence"].GetNumberValue()
	reasoning = fields["reasoning"].GetStringValue()
	return decision, confidence, reasoning, nil
}
