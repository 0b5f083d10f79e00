package controlplane

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/api"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/apierr"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/hrn"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/pdp"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/policy"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/policystore"
)

// Handler exposes the administrative surface (spec §6) as an action-named
// JSON-RPC-over-HTTP binding — one POST endpoint per operation, since the
// surface is explicitly not tied to a resource-path shape (HRNs contain
// colons and slashes, which don't map cleanly onto REST path segments).
func Handler(svc *Service) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	mux.HandleFunc("POST /v1/policies.Create", handleJSON(func(r *http.Request, req *createPolicyRequest) (any, error) {
		h, err := hrn.Parse(req.HRN)
		if err != nil {
			return nil, apierr.Wrap(apierr.Validation, "invalid hrn", err)
		}
		return svc.CreatePolicy(r.Context(), h, policy.Kind(req.Kind), req.SourceText)
	}))

	mux.HandleFunc("POST /v1/policies.Get", handleJSON(func(r *http.Request, req *hrnRequest) (any, error) {
		h, err := hrn.Parse(req.HRN)
		if err != nil {
			return nil, apierr.Wrap(apierr.Validation, "invalid hrn", err)
		}
		return svc.GetPolicy(r.Context(), h)
	}))

	mux.HandleFunc("POST /v1/policies.Update", handleJSON(func(r *http.Request, req *updatePolicyRequest) (any, error) {
		h, err := hrn.Parse(req.HRN)
		if err != nil {
			return nil, apierr.Wrap(apierr.Validation, "invalid hrn", err)
		}
		return svc.UpdatePolicy(r.Context(), h, req.SourceText, req.ExpectedVersion)
	}))

	mux.HandleFunc("POST /v1/policies.Delete", handleJSON(func(r *http.Request, req *deletePolicyRequest) (any, error) {
		h, err := hrn.Parse(req.HRN)
		if err != nil {
			return nil, apierr.Wrap(apierr.Validation, "invalid hrn", err)
		}
		return struct{}{}, svc.DeletePolicy(r.Context(), h, req.Force)
	}))

	mux.HandleFunc("POST /v1/policies.List", handleJSON(func(r *http.Request, req *listPoliciesRequest) (any, error) {
		policies, cursor, err := svc.ListPolicies(r.Context(), policystore.Filter{
			Kind:    policy.Kind(req.Kind),
			Account: req.Account,
		}, req.Cursor, req.Limit)
		if err != nil {
			return nil, err
		}
		return listPoliciesResponse{Policies: policies, Cursor: cursor}, nil
	}))

	mux.HandleFunc("POST /v1/principals.AttachPolicy", handleJSON(func(r *http.Request, req *attachRequest) (any, error) {
		p, err := hrn.Parse(req.PrincipalHRN)
		if err != nil {
			return nil, apierr.Wrap(apierr.Validation, "invalid principal hrn", err)
		}
		policyHRN, err := hrn.Parse(req.PolicyHRN)
		if err != nil {
			return nil, apierr.Wrap(apierr.Validation, "invalid policy hrn", err)
		}
		return struct{}{}, svc.AttachPolicyToPrincipal(r.Context(), p, policyHRN)
	}))

	mux.HandleFunc("POST /v1/principals.DetachPolicy", handleJSON(func(r *http.Request, req *attachRequest) (any, error) {
		p, err := hrn.Parse(req.PrincipalHRN)
		if err != nil {
			return nil, apierr.Wrap(apierr.Validation, "invalid principal hrn", err)
		}
		policyHRN, err := hrn.Parse(req.PolicyHRN)
		if err != nil {
			return nil, apierr.Wrap(apierr.Validation, "invalid policy hrn", err)
		}
		return struct{}{}, svc.DetachPolicy(r.Context(), p, policyHRN)
	}))

	mux.HandleFunc("POST /v1/ous.AttachScp", handleJSON(func(r *http.Request, req *scpRequest) (any, error) {
		ou, err := hrn.Parse(req.OUHRN)
		if err != nil {
			return nil, apierr.Wrap(apierr.Validation, "invalid ou hrn", err)
		}
		scp, err := hrn.Parse(req.ScpHRN)
		if err != nil {
			return nil, apierr.Wrap(apierr.Validation, "invalid scp hrn", err)
		}
		return struct{}{}, svc.AttachScpToOU(r.Context(), ou, scp)
	}))

	mux.HandleFunc("POST /v1/ous.DetachScp", handleJSON(func(r *http.Request, req *scpRequest) (any, error) {
		ou, err := hrn.Parse(req.OUHRN)
		if err != nil {
			return nil, apierr.Wrap(apierr.Validation, "invalid ou hrn", err)
		}
		scp, err := hrn.Parse(req.ScpHRN)
		if err != nil {
			return nil, apierr.Wrap(apierr.Validation, "invalid scp hrn", err)
		}
		return struct{}{}, svc.DetachScpFromOU(r.Context(), ou, scp)
	}))

	mux.HandleFunc("POST /v1/authorize", handleJSON(func(r *http.Request, req *pdp.DecisionRequest) (any, error) {
		return svc.Authorize(r.Context(), req)
	}))

	mux.HandleFunc("POST /v1/schema.Propose", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			api.WriteBadRequest(w, "failed to read request body")
			return
		}
		version, err := svc.ProposeSchemaDocument(body)
		if err != nil {
			api.WriteAPIErr(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(struct {
			Version uint64 `json:"version"`
		}{Version: version})
	})

	return mux
}

type createPolicyRequest struct {
	HRN        string `json:"hrn"`
	Kind       string `json:"kind"`
	SourceText string `json:"source_text"`
}

type hrnRequest struct {
	HRN string `json:"hrn"`
}

type updatePolicyRequest struct {
	HRN             string `json:"hrn"`
	SourceText      string `json:"source_text"`
	ExpectedVersion uint64 `json:"expected_version"`
}

type deletePolicyRequest struct {
	HRN   string `json:"hrn"`
	Force bool   `json:"force"`
}

type listPoliciesRequest struct {
	Kind    string `json:"kind"`
	Account string `json:"account"`
	Cursor  string `json:"cursor"`
	Limit   int    `json:"limit"`
}

type listPoliciesResponse struct {
	Policies []*policy.Policy `json:"policies"`
	Cursor   string           `json:"cursor"`
}

type attachRequest struct {
	PrincipalHRN string `json:"principal_hrn"`
	PolicyHRN    string `json:"policy_hrn"`
}

type scpRequest struct {
	OUHRN  string `json:"ou_hrn"`
	ScpHRN string `json:"scp_hrn"`
}

// handleJSON decodes req from the request body, calls fn, and writes its
// result as JSON — or maps its error through apierr's RFC 7807 binding.
func handleJSON[T any](fn func(r *http.Request, req *T) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req T
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				api.WriteBadRequest(w, "invalid JSON body")
				return
			}
		}

		result, err := fn(r, &req)
		if err != nil {
			api.WriteAPIErr(w, r, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(result)
	}
}
