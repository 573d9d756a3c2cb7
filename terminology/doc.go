// Package terminology provides value set membership and expansion services.
//
//   - Memory answers from locally loaded ValueSets and CodeSystems, expanding
//     compose filters (is-a, descendent-of, =, regex, include-all) on first use.
//   - Cached puts a sharded TTL cache in front of any service.
//   - RemoteService asks a FHIR terminology server via $validate-code and
//     $expand.
//
// Services are combined with service.TerminologyChain:
//
//	local := terminology.NewMemory()
//	if _, err := local.LoadPath("valuesets/"); err != nil {
//		return err
//	}
//	remote := terminology.NewRemote("https://tx.fhir.org/r4")
//	ts := service.NewTerminologyChain(local, terminology.NewCached(remote, terminology.DefaultCacheConfig()))
package terminology
