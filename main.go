package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/cruxstack/checkout-email-verification-go/internal/config"
	"github.com/cruxstack/checkout-email-verification-go/internal/endpoint"
	"github.com/cruxstack/checkout-email-verification-go/internal/log"
)

var (
	cfg     *config.Config
	handler *endpoint.Handler
)

func Handler(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	if cfg.AppDebugMode {
		evtJson, err := json.Marshal(req)
		if err != nil {
			log.Warn("failed to marshal request event", "error", err)
		} else {
			log.Debug(string(evtJson))
		}
	}

	return handler.HandleLambda(ctx, req)
}

func main() {
	var err error

	cfg, err = config.New()
	if err != nil {
		log.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	log.SetLevel(cfg.AppLogLevel)
	log.MakeDefault()

	handler, err = endpoint.NewFromConfig(context.Background(), cfg)
	if err != nil {
		log.Error("failed to init verification endpoint", "error", err)
		os.Exit(1)
	}

	lambda.Start(Handler)
}
