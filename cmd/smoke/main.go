// Command smoke drives the core flows end to end against the in-memory
// store: provisioning, credential sharing and disclosure, the invoice
// approval cycle, and the audit trail. It exits non-zero on the first
// violated expectation.
package main

import (
	"context"
	"log"

	"opsdesk.org/internal/access"
	"opsdesk.org/internal/audit"
	"opsdesk.org/internal/credential"
	"opsdesk.org/internal/identity"
	"opsdesk.org/internal/invoice"
	"opsdesk.org/internal/notify"
	"opsdesk.org/internal/sharing"
	"opsdesk.org/internal/store/memory"
)

func main() {
	log.SetFlags(0)
	ctx := context.Background()
	store := memory.New()

	trail, err := audit.NewRecorder(store.AuditLog())
	if err != nil {
		log.Fatalf("audit recorder: %v", err)
	}
	events := notify.LogEmitter{}

	accounts, err := identity.NewService(store.Principals())
	if err != nil {
		log.Fatalf("identity service: %v", err)
	}
	credentials, err := credential.NewService(store.Credentials(), store.Grants(), trail, events)
	if err != nil {
		log.Fatalf("credential service: %v", err)
	}
	shares, err := sharing.NewManager(store.Grants(), credentials, trail, events)
	if err != nil {
		log.Fatalf("sharing manager: %v", err)
	}
	invoices, err := invoice.NewService(store.Invoices(), trail, events)
	if err != nil {
		log.Fatalf("invoice service: %v", err)
	}

	admin := provision(ctx, accounts, "admin@opsdesk.local", identity.RoleAdmin, identity.TierAdmin)
	owner := provision(ctx, accounts, "owner@opsdesk.local", identity.RoleUser)
	viewer := provision(ctx, accounts, "viewer@opsdesk.local", identity.RoleUser)

	// Credential sharing and disclosure.
	cred, err := credentials.Create(ctx, owner, credential.CreateInput{
		Name:    "warehouse wifi",
		Secrets: credential.Secrets{credential.FieldPassword: "hunter2"},
	})
	if err != nil {
		log.Fatalf("create credential: %v", err)
	}
	if _, err := credentials.DiscloseSecret(ctx, viewer, cred.ID, credential.FieldPassword); err == nil {
		log.Fatal("viewer disclosed a secret without a grant")
	}
	if _, err := shares.Grant(ctx, owner, cred.ID, viewer.ID, access.LevelView); err != nil {
		log.Fatalf("grant: %v", err)
	}
	value, err := credentials.DiscloseSecret(ctx, viewer, cred.ID, credential.FieldPassword)
	if err != nil {
		log.Fatalf("disclose after grant: %v", err)
	}
	if value != "hunter2" {
		log.Fatalf("disclosed %q, want hunter2", value)
	}
	views, err := credentials.List(ctx, viewer)
	if err != nil {
		log.Fatalf("list credentials: %v", err)
	}
	for _, v := range views {
		for _, masked := range v.Secrets {
			if masked != credential.Mask {
				log.Fatalf("listing leaked a secret value %q", masked)
			}
		}
	}
	if err := shares.Revoke(ctx, owner, cred.ID, viewer.ID); err != nil {
		log.Fatalf("revoke: %v", err)
	}
	if _, err := credentials.DiscloseSecret(ctx, viewer, cred.ID, credential.FieldPassword); err == nil {
		log.Fatal("viewer disclosed a secret after revocation")
	}

	// Invoice cycle: reject, corrective edit resubmits, then approve.
	inv, err := invoices.Create(ctx, owner, invoice.CreateInput{
		AmountCents: 125_00,
		Currency:    "USD",
		Description: "printer toner",
	})
	if err != nil {
		log.Fatalf("create invoice: %v", err)
	}
	if inv, err = invoices.Reject(ctx, admin, inv.ID, "missing receipt"); err != nil {
		log.Fatalf("reject: %v", err)
	}
	if _, err := invoices.Approve(ctx, admin, inv.ID); err == nil {
		log.Fatal("approved a rejected invoice directly")
	}
	desc := "printer toner, receipt attached"
	if inv, err = invoices.Edit(ctx, owner, inv.ID, invoice.Update{Description: &desc}); err != nil {
		log.Fatalf("corrective edit: %v", err)
	}
	if inv.Status != invoice.StatusPending {
		log.Fatalf("edit left status %s, want pending", inv.Status)
	}
	if inv, err = invoices.Approve(ctx, admin, inv.ID); err != nil {
		log.Fatalf("approve after resubmission: %v", err)
	}
	if _, err := invoices.Edit(ctx, owner, inv.ID, invoice.Update{Description: &desc}); err == nil {
		log.Fatal("edited an approved invoice as a plain user")
	}

	// Audit trail captured the disclosure.
	entries, err := trail.Trail(ctx, audit.SubjectCredential, cred.ID, 10)
	if err != nil {
		log.Fatalf("trail: %v", err)
	}
	var sawDisclose bool
	for _, e := range entries {
		if e.Action == "disclose" && e.ActorID == viewer.ID {
			sawDisclose = true
		}
	}
	if !sawDisclose {
		log.Fatal("audit trail missing the disclosure entry")
	}

	log.Println("smoke: all flows passed")
}

func provision(ctx context.Context, accounts *identity.Service, email string, role identity.Role, tier ...identity.AdminTier) identity.Principal {
	t := identity.AdminTier("")
	if len(tier) > 0 {
		t = tier[0]
	}
	acct, err := accounts.Provision(ctx, "org-main", email, "changeme-now", role, t, nil)
	if err != nil {
		log.Fatalf("provision %s: %v", email, err)
	}
	return acct.Principal()
}
