package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"
)

// FitEvent is the payload for the Lambda-hosted fit handler: a fit request
// plus the NATS subject the serialized FitResponse should be published to.
type FitEvent struct {
	Request      FitRequest `json:"request"`
	ReplyChannel string     `json:"reply_channel,omitempty"`
}

// LambdaClient submits fit requests to an AWS Lambda function running the
// cmd/lambda handler. Responses come back asynchronously over NATS on the
// event's reply channel.
type LambdaClient struct {
	client       *lambda.Client
	functionName string
}

func NewLambdaClient(ctx context.Context, functionName string) (*LambdaClient, error) {
	awscfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}
	return &LambdaClient{
		client:       lambda.NewFromConfig(awscfg),
		functionName: functionName,
	}, nil
}

// Submit invokes the function asynchronously (event invocation type). A nil
// error means the event was accepted, not that the fit succeeded.
func (lc *LambdaClient) Submit(ctx context.Context, evt *FitEvent) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	out, err := lc.client.Invoke(ctx, &lambda.InvokeInput{
		FunctionName:   aws.String(lc.functionName),
		InvocationType: types.InvocationTypeEvent,
		Payload:        payload,
	})
	if err != nil {
		return err
	}
	if out.StatusCode != http.StatusAccepted {
		return fmt.Errorf("unexpected lambda status %d", out.StatusCode)
	}
	return nil
}
