package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/acita-gmbh/eaf-sub013/cqrs"
	"github.com/acita-gmbh/eaf-sub013/eventstore"
	"github.com/acita-gmbh/eaf-sub013/tenant"
)

// The VM request aggregate is the first product domain hosted on the
// framework: a self-service request for a virtual machine that operators
// approve or reject.

// ── commands & queries ──

type CreateVmRequest struct {
	Tenant   string `json:"tenantId" validate:"required,uuid"`
	ID       string `json:"vmRequestId" validate:"required,uuid"`
	Name     string `json:"name" validate:"required,max=128"`
	Cores    int    `json:"cores" validate:"required,min=1,max=64"`
	MemoryMB int    `json:"memoryMb" validate:"required,min=256,max=262144"`
}

func (c CreateVmRequest) TenantID() string    { return c.Tenant }
func (c CreateVmRequest) CommandType() string { return "CreateVmRequest" }
func (c CreateVmRequest) AggregateID() string { return c.ID }

type ApproveVmRequest struct {
	Tenant string `json:"tenantId" validate:"required,uuid"`
	ID     string `json:"vmRequestId" validate:"required,uuid"`
}

func (c ApproveVmRequest) TenantID() string    { return c.Tenant }
func (c ApproveVmRequest) CommandType() string { return "ApproveVmRequest" }
func (c ApproveVmRequest) AggregateID() string { return c.ID }

type VmRequestByID struct {
	Tenant string `json:"tenantId"`
	ID     string `json:"vmRequestId"`
}

func (q VmRequestByID) TenantID() string  { return q.Tenant }
func (q VmRequestByID) QueryType() string { return "VmRequestByID" }

// ── aggregate ──

type vmRequestState struct {
	Exists   bool   `json:"exists"`
	Name     string `json:"name"`
	Cores    int    `json:"cores"`
	MemoryMB int    `json:"memoryMb"`
	Status   string `json:"status"`
}

var vmRequestType = cqrs.AggregateType[vmRequestState]{
	Name: "VmRequest",
	New:  func() vmRequestState { return vmRequestState{} },
	Apply: func(s vmRequestState, evt eventstore.Event) (vmRequestState, error) {
		switch evt.EventType {
		case "VmRequestCreated":
			var p struct {
				Name     string `json:"name"`
				Cores    int    `json:"cores"`
				MemoryMB int    `json:"memoryMb"`
			}
			if err := json.Unmarshal(evt.Payload, &p); err != nil {
				return s, err
			}
			return vmRequestState{Exists: true, Name: p.Name, Cores: p.Cores, MemoryMB: p.MemoryMB, Status: "pending"}, nil
		case "VmRequestApproved":
			s.Status = "approved"
			return s, nil
		default:
			return s, &cqrs.InvalidStateError{AggregateType: "VmRequest", EventType: evt.EventType}
		}
	},
}

var commandValidate = validator.New()

func handleCreateVmRequest(ctx context.Context, s vmRequestState, cmd cqrs.Command) ([]eventstore.Event, error) {
	c := cmd.(CreateVmRequest)
	if err := commandValidate.Struct(c); err != nil {
		return nil, cqrs.NewDomainError("invalid_vm_request", "%v", err)
	}
	if s.Exists {
		return nil, cqrs.NewDomainError("vm_request_exists", "vm request %s already exists", c.ID)
	}
	payload, err := json.Marshal(map[string]any{
		"name":     c.Name,
		"cores":    c.Cores,
		"memoryMb": c.MemoryMB,
	})
	if err != nil {
		return nil, err
	}
	return []eventstore.Event{{EventType: "VmRequestCreated", Payload: payload}}, nil
}

func handleApproveVmRequest(ctx context.Context, s vmRequestState, cmd cqrs.Command) ([]eventstore.Event, error) {
	c := cmd.(ApproveVmRequest)
	if err := commandValidate.Struct(c); err != nil {
		return nil, cqrs.NewDomainError("invalid_vm_request", "%v", err)
	}
	if !s.Exists {
		return nil, cqrs.NewDomainError("vm_request_missing", "vm request %s does not exist", c.ID)
	}
	if s.Status == "approved" {
		return nil, cqrs.NewDomainError("vm_request_already_approved", "vm request %s is already approved", c.ID)
	}
	return []eventstore.Event{{EventType: "VmRequestApproved", Payload: json.RawMessage(`{}`)}}, nil
}

// ── wiring ──

func registerVmRequests(
	commandBus *cqrs.CommandBus,
	queryBus *cqrs.QueryBus,
	eventBus *cqrs.EventBus,
	store eventstore.Store,
	snapshots eventstore.SnapshotStore,
	correlation *cqrs.CorrelationProvider,
	publisher cqrs.EventPublisher,
	pool *pgxpool.Pool,
	binder *eventstore.SessionBinder,
	logger *zap.Logger,
) error {
	rt := cqrs.NewRuntime(vmRequestType, store, correlation, logger,
		cqrs.WithSnapshots[vmRequestState](snapshots, 50),
		cqrs.WithPublisher[vmRequestState](publisher),
	)

	if err := commandBus.Register("CreateVmRequest", rt.Handler(handleCreateVmRequest)); err != nil {
		return err
	}
	if err := commandBus.Register("ApproveVmRequest", rt.Handler(handleApproveVmRequest)); err != nil {
		return err
	}
	if err := queryBus.Register("VmRequestByID", vmRequestByID); err != nil {
		return err
	}

	updater := vmRequestUpdater(pool, binder)
	eventBus.Register("VmRequestCreated", updater)
	eventBus.Register("VmRequestApproved", updater)
	return nil
}

// vmRequestByID reads the projection row inside the session bound by the
// query chain.
func vmRequestByID(ctx context.Context, q cqrs.Query) (any, error) {
	tx, ok := cqrs.TxFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("no bound session for query %s", q.QueryType())
	}
	req := q.(VmRequestByID)

	var out struct {
		ID       string `json:"vmRequestId"`
		Name     string `json:"name"`
		Cores    int    `json:"cores"`
		MemoryMB int    `json:"memoryMb"`
		Status   string `json:"status"`
		Version  int64  `json:"version"`
	}
	err := tx.QueryRow(ctx, `
		SELECT aggregate_id, name, cores, memory_mb, status, version
		FROM eaf_events.vm_requests
		WHERE aggregate_id = $1`,
		req.ID,
	).Scan(&out.ID, &out.Name, &out.Cores, &out.MemoryMB, &out.Status, &out.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query vm request: %w", err)
	}
	return out, nil
}

// vmRequestUpdater maintains the vm_requests read model. Upserts keyed by
// the aggregate keep redelivery idempotent.
func vmRequestUpdater(pool *pgxpool.Pool, binder *eventstore.SessionBinder) cqrs.EventHandlerFunc {
	return func(ctx context.Context, evt eventstore.Event) error {
		t, err := tenant.Require(ctx)
		if err != nil {
			return err
		}
		return binder.RunInTx(ctx, pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
			switch evt.EventType {
			case "VmRequestCreated":
				var p struct {
					Name     string `json:"name"`
					Cores    int    `json:"cores"`
					MemoryMB int    `json:"memoryMb"`
				}
				if err := json.Unmarshal(evt.Payload, &p); err != nil {
					return err
				}
				_, err := tx.Exec(ctx, `
					INSERT INTO eaf_events.vm_requests
						(tenant_id, aggregate_id, name, cores, memory_mb, status, version)
					VALUES ($1::uuid, $2, $3, $4, $5, 'pending', $6)
					ON CONFLICT (tenant_id, aggregate_id) DO UPDATE
					SET version = GREATEST(eaf_events.vm_requests.version, EXCLUDED.version)`,
					t, evt.AggregateID, p.Name, p.Cores, p.MemoryMB, evt.Version,
				)
				return err
			case "VmRequestApproved":
				_, err := tx.Exec(ctx, `
					UPDATE eaf_events.vm_requests
					SET status = 'approved', version = GREATEST(version, $2)
					WHERE aggregate_id = $1`,
					evt.AggregateID, evt.Version,
				)
				return err
			default:
				return nil
			}
		})
	}
}

// ── HTTP routes ──

func registerVmRequestRoutes(g *echo.Group, commandBus *cqrs.CommandBus, queryBus *cqrs.QueryBus, logger *zap.Logger) {
	g.POST("/vm-requests", func(c echo.Context) error {
		var cmd CreateVmRequest
		if err := c.Bind(&cmd); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
		}
		ctx := c.Request().Context()
		if cmd.Tenant == "" {
			cmd.Tenant = tenant.Current(ctx)
		}
		if cmd.ID == "" {
			cmd.ID = uuid.NewString()
		}
		version, err := commandBus.Dispatch(ctx, cmd)
		if err != nil {
			return commandError(c, err, logger)
		}
		return c.JSON(http.StatusCreated, map[string]any{"vmRequestId": cmd.ID, "version": version})
	})

	g.POST("/vm-requests/:id/approve", func(c echo.Context) error {
		ctx := c.Request().Context()
		cmd := ApproveVmRequest{Tenant: tenant.Current(ctx), ID: c.Param("id")}
		version, err := commandBus.Dispatch(ctx, cmd)
		if err != nil {
			return commandError(c, err, logger)
		}
		return c.JSON(http.StatusOK, map[string]any{"vmRequestId": cmd.ID, "version": version})
	})

	g.GET("/vm-requests/:id", func(c echo.Context) error {
		ctx := c.Request().Context()
		q := VmRequestByID{Tenant: tenant.Current(ctx), ID: c.Param("id")}
		res, err := queryBus.Dispatch(ctx, q)
		if err != nil {
			return commandError(c, err, logger)
		}
		if res == nil {
			return echo.NewHTTPError(http.StatusNotFound, "vm request not found")
		}
		return c.JSON(http.StatusOK, res)
	})
}

// commandError maps pipeline errors to HTTP. Conflicts are distinct so UIs
// can prompt a retry-with-reload; security failures stay generic.
func commandError(c echo.Context, err error, logger *zap.Logger) error {
	var de *cqrs.DomainError
	switch {
	case errors.Is(err, cqrs.ErrDenied):
		return c.JSON(http.StatusForbidden, map[string]string{"error": cqrs.DeniedMessage})
	case eventstore.IsConcurrencyConflict(err):
		return c.JSON(http.StatusConflict, map[string]string{"error": "version conflict, reload and retry"})
	case errors.As(err, &de):
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": de.Message, "code": de.Code})
	default:
		logger.Error("dispatch failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}
