// Package validator checks request fields with composable rules.
//
//	err := validator.Apply(
//		validator.Required("planId", req.PlanID),
//		validator.Identifier("planId", req.PlanID),
//		validator.RedirectURL("successUrl", req.SuccessURL, allowedHosts),
//	)
//
// Apply returns ValidationErrors listing every failed rule.
package validator
