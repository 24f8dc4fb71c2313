// Package linkauth resolves federated logins to local accounts and links
// additional provider identities to an account.
//
// linkauth separates authentication into accounts, identity records and
// authenticators. One account can be reached through any number of
// provider identities, and each (provider, external id) pair belongs to
// exactly one account.
//
// # Architecture
//
// Account: A local user account with a unique, immutable username. Accounts
// created through federated login carry a placeholder email of the form
// "{username}@socialauth" until a provider asserts a real one.
//
// IdentityRecord: The link between a provider identity (OpenID claimed
// identifier, Twitter screen name, LinkedIn member id, Facebook user id)
// and an account. Records carry what the provider last asserted and, for
// Google OpenID logins, a flag that the account may need a cross-domain merge.
//
// Authenticator: One per provider. It validates the provider assertion,
// extracts the external id and asserted fields and hands them to the
// Provisioner, which finds, creates or links the account atomically.
//
// AuditEntry: An append-only record written in the same transaction as
// every identity link.
//
// # Basic Usage
//
// Pick a store and build the service:
//
//	import (
//	    "github.com/panyam/linkauth"
//	    "github.com/panyam/linkauth/stores/fs"
//	)
//
//	store := fs.NewFSStore("/path/to/storage")
//	provisioner := linkauth.NewProvisioner(store)
//	svc := linkauth.NewService(provisioner).
//	    Register(linkauth.NewOpenIDAuthenticator(provisioner)).
//	    Register(linkauth.NewTwitterAuthenticator(provisioner, nil)).
//	    Register(linkauth.NewLinkedInAuthenticator(provisioner, nil)).
//	    Register(linkauth.NewFacebookAuthenticator(provisioner, facebookClient))
//
// Resolve a login. Passing the logged in account instead of nil links the
// identity to it:
//
//	account, err := svc.Authenticate(ctx, linkauth.ProviderTwitter,
//	    linkauth.TwitterProfile{ScreenName: "alice"}, nil)
//	if errors.Is(err, linkauth.ErrAlreadyLinked) {
//	    // the identity belongs to another account
//	}
//
// Serve the HTTP endpoints:
//
//	auth := linkauth.New("MyApp", svc)
//	auth.MountFacebook("/auth/facebook", facebookClient)
//	http.ListenAndServe(":8080", auth.Handler())
//
// # Usernames
//
// New accounts get a username "{prefix}-{base}" where the prefix names the
// provider (OI, TW, LI, FB). Twitter, LinkedIn and Facebook seed the base
// from the external id; OpenID uses a random base. Collisions append an
// increasing numeric suffix.
//
// # Stores
//
// Implementations of Store live under stores/: fs (JSON files), gorm and
// postgres (PostgreSQL), and gae (Google Cloud Datastore). All of them
// enforce unique usernames and unique (provider, external id) pairs and
// report violations as ErrUsernameTaken and ErrIdentityExists.
package linkauth
