package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/IJaes/jeogiyo-server-sub000/internal/domain"
	"github.com/IJaes/jeogiyo-server-sub000/internal/gateway"
)

// initGatewayClient выбирает платёжный шлюз: REST-клиент при заданном
// базовом URL, иначе mock для локальной разработки.
func initGatewayClient(cfg Config, logger *log.Entry) domain.GatewayClient {
	if cfg.GatewayBaseURL == "" {
		logger.Warn("gateway base url is empty, using mock gateway client")
		return gateway.NewMockClient()
	}

	client := gateway.NewHTTPClient(gateway.Config{
		BaseURL:   cfg.GatewayBaseURL,
		SecretKey: cfg.GatewaySecretKey,
		Timeout:   cfg.GatewayTimeout,
	}, logger.WithField("component", "gateway-client"))

	logger.WithField("base_url", cfg.GatewayBaseURL).Info("payment gateway client initialized")
	return client
}
