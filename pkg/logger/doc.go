// Package logger builds *slog.Logger values for the billing service.
//
// New takes functional options: output format (text or JSON), level, static attributes
// and ContextExtractor callbacks that pull request-scoped values such as the request id
// out of context.Context on every record. FromConfig maps the env-driven Config onto
// those options.
//
//	log := logger.New(
//		logger.FromConfig(cfg.Log),
//		logger.WithContextExtractors(requestid.LoggerExtractor()),
//	)
//	logger.SetAsDefault(log)
//
// The attribute helpers (UserID, EventID, Provider, Error ...) keep key names consistent
// across packages. Helpers taking strings return an empty Attr for empty values, so they
// can be passed unconditionally:
//
//	log.WarnContext(ctx, "webhook event references unknown user",
//		logger.UserID(event.UserID), logger.CustomerRef(event.CustomerRef))
package logger
