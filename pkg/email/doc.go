// Package email sends billing receipts.
//
// EmailSender abstracts delivery. NewPostmarkClient sends through Postmark;
// DevSender writes HTML and JSON files to a directory for local development.
// ReceiptNotifier plugs into billing.WithNotifier and mails a receipt whenever
// the reconciler completes a payment.
//
//	var sender email.EmailSender = email.NewDevSender(cfg.DevDir)
//	if cfg.Enabled() {
//		sender, err = email.NewPostmarkClient(cfg)
//		if err != nil {
//			return err
//		}
//	}
//	reconciler := billing.NewReconciler(provider, store, catalog, users,
//		billing.WithNotifier(email.NewReceiptNotifier(sender, cfg)))
package email
