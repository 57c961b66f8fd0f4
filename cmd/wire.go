package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/nebrix/klokpilot/internal/adapters/groq"
	"github.com/nebrix/klokpilot/internal/adapters/klok"
	"github.com/nebrix/klokpilot/internal/adapters/logging"
	filestore "github.com/nebrix/klokpilot/internal/adapters/storage/file"
	"github.com/nebrix/klokpilot/internal/adapters/wallet"
	"github.com/nebrix/klokpilot/internal/application"
	"github.com/nebrix/klokpilot/internal/config"
	"github.com/nebrix/klokpilot/internal/domain"
	"github.com/nebrix/klokpilot/internal/ports"
)

type app struct {
	cfg     config.Config
	log     *zap.Logger
	exec    *application.Executor
	session *application.SessionManager
	limits  *application.RateLimitController
	chat    *application.ChatService
	prompts ports.PromptGenerator
	auth    *wallet.Authenticator
	tokens  ports.ListStore
	keys    ports.ListStore
}

// wireApp builds the object graph below the automation loop. console selects
// whether log lines go to stderr; the dashboard run disables it.
func wireApp(ctx context.Context, console bool) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log, err := logging.New(logging.Options{
		FilePath: cfg.Log.File,
		Console:  console,
		Debug:    cfg.Log.Debug,
	})
	if err != nil {
		return nil, fmt.Errorf("wire logger: %w", err)
	}

	proxyStore := filestore.NewStore(cfg.Files.Proxies)
	proxies, err := proxyStore.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load proxies: %w", err)
	}
	if len(proxies) == 0 {
		log.Info("no proxies configured, using direct connections")
	}

	api := klok.NewClient(klok.Options{
		BaseURL: cfg.API.BaseURL,
		Origin:  cfg.API.Origin,
		Referer: cfg.API.Referer,
	}, log)

	exec := application.NewExecutor(domain.NewRing(proxies), application.RetryPolicy{
		MaxRetries:   cfg.Retry.MaxRetries,
		InitialDelay: cfg.Retry.InitialDelay,
		Multiplier:   cfg.Retry.Multiplier,
	}, log)

	tokenStore := filestore.NewStore(cfg.Files.SessionTokens)
	session := application.NewSessionManager(api, exec, tokenStore, log, cfg.Automation.VerifyThreads)
	exec.BindCredentials(session)

	return &app{
		cfg:     cfg,
		log:     log,
		exec:    exec,
		session: session,
		limits:  application.NewRateLimitController(api, exec, session, nil, log),
		chat:    application.NewChatService(api, exec, session, nil, log),
		prompts: groq.NewGenerator(groq.Options{APIKey: groqAPIKey(cfg), Model: cfg.Groq.Model}, log),
		auth: wallet.NewAuthenticator(wallet.Options{
			BaseURL:      cfg.API.BaseURL,
			Origin:       cfg.API.Origin,
			Referer:      cfg.API.Referer,
			ReferralCode: cfg.API.ReferralCode,
		}, log),
		tokens: tokenStore,
		keys:   filestore.NewStore(cfg.Files.PrivateKeys),
	}, nil
}

// groqAPIKey reads the key file, falling back to the GROQ_API_KEY
// environment variable. Prompt generation degrades to a fixed prompt when
// neither is set.
func groqAPIKey(cfg config.Config) string {
	if data, err := os.ReadFile(cfg.Files.GroqKey); err == nil {
		if key := strings.TrimSpace(string(data)); key != "" {
			return key
		}
	}
	return os.Getenv("GROQ_API_KEY")
}

func (a *app) automationConfig() application.AutomationConfig {
	acfg := application.DefaultAutomationConfig()
	acfg.SwitchInterval = a.cfg.Automation.SwitchInterval
	acfg.MinTurnDelay = a.cfg.Automation.MinTurnDelay
	acfg.MaxTurnDelay = a.cfg.Automation.MaxTurnDelay
	return acfg
}
