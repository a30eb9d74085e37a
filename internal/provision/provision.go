// Package provision creates the Azure resources the data lake runs on: a resource group,
// a storage account and a Synapse analytics workspace.
//
// Every operation is create-or-update and blocks until Azure Resource Manager reports the
// long-running operation as finished. Errors are logged and returned to the caller; nothing
// created earlier in a run is rolled back.
package provision

import (
	"context"
	"errors"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armresources"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/storage/armstorage"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/synapse/armsynapse"
	"github.com/straye-as/sports-datalake/internal/config"
	"github.com/straye-as/sports-datalake/internal/logger"
	"go.uber.org/zap"
)

const (
	// DefaultSKU is the storage account SKU used when none is configured
	DefaultSKU = "Standard_LRS"
	// DefaultKind is the storage account kind used when none is configured
	DefaultKind = "StorageV2"
	// DefaultFilesystem is the data lake filesystem linked to the workspace
	DefaultFilesystem = "synapse"
	// DefaultEndpointSuffix is the public Azure storage endpoint suffix
	DefaultEndpointSuffix = "core.windows.net"

	// sqlEndpointKey is the connectivity endpoint holding the dedicated SQL endpoint
	sqlEndpointKey = "sql"
)

var (
	// ErrNoAccountKeys is returned when a storage account has no usable access key
	ErrNoAccountKeys = errors.New("storage account returned no access keys")

	// ErrSQLEndpointMissing is returned when a created workspace has no SQL connectivity endpoint
	ErrSQLEndpointMissing = errors.New("workspace has no sql connectivity endpoint")
)

// ResourceGroupsAPI creates or updates resource groups
type ResourceGroupsAPI interface {
	CreateOrUpdate(ctx context.Context, name string, group armresources.ResourceGroup) (armresources.ResourceGroup, error)
}

// StorageAccountsAPI creates storage accounts and lists their access keys.
// Create blocks until the long-running operation has completed.
type StorageAccountsAPI interface {
	Create(ctx context.Context, resourceGroup, name string, params armstorage.AccountCreateParameters) (armstorage.Account, error)
	ListKeys(ctx context.Context, resourceGroup, name string) ([]*armstorage.AccountKey, error)
}

// WorkspacesAPI creates or updates Synapse workspaces.
// CreateOrUpdate blocks until the long-running operation has completed.
type WorkspacesAPI interface {
	CreateOrUpdate(ctx context.Context, resourceGroup, name string, workspace armsynapse.Workspace) (armsynapse.Workspace, error)
}

// ResourceGroup is the logical container the other resources are created in
type ResourceGroup struct {
	Name     string
	Location string
}

// StorageAccountSpec describes the storage account to create
type StorageAccountSpec struct {
	ResourceGroup string
	Name          string
	Location      string
	SKU           string
	Kind          string
}

// WorkspaceSpec describes the Synapse workspace to create
type WorkspaceSpec struct {
	ResourceGroup      string
	Name               string
	Location           string
	StorageAccountName string
	Filesystem         string
	SQLAdminLogin      string
	SQLAdminPassword   string
}

// Outputs are the values produced by a successful provisioning run
type Outputs struct {
	ConnectionString string
	SQLEndpoint      string
}

// Provisioner ensures the data lake resources exist
type Provisioner struct {
	groups         ResourceGroupsAPI
	accounts       StorageAccountsAPI
	workspaces     WorkspacesAPI
	endpointSuffix string
	logger         *zap.Logger
}

// NewProvisioner creates a provisioner backed by the given clients.
// An empty endpointSuffix selects the public Azure cloud.
func NewProvisioner(clients *Clients, endpointSuffix string, logger *zap.Logger) *Provisioner {
	if endpointSuffix == "" {
		endpointSuffix = DefaultEndpointSuffix
	}
	return &Provisioner{
		groups:         clients.ResourceGroups,
		accounts:       clients.StorageAccounts,
		workspaces:     clients.Workspaces,
		endpointSuffix: endpointSuffix,
		logger:         logger,
	}
}

// SpecsFromConfig builds the storage account and workspace specs from configuration
func SpecsFromConfig(cfg *config.Config) (StorageAccountSpec, WorkspaceSpec) {
	storage := StorageAccountSpec{
		ResourceGroup: cfg.Azure.ResourceGroup,
		Name:          cfg.Storage.AccountName,
		Location:      cfg.Azure.Location,
		SKU:           cfg.Storage.SKU,
		Kind:          cfg.Storage.Kind,
	}
	workspace := WorkspaceSpec{
		ResourceGroup:      cfg.Azure.ResourceGroup,
		Name:               cfg.Workspace.Name,
		Location:           cfg.Azure.Location,
		StorageAccountName: cfg.Storage.AccountName,
		Filesystem:         cfg.Workspace.Filesystem,
		SQLAdminLogin:      cfg.Workspace.SQLAdminLogin,
		SQLAdminPassword:   cfg.Workspace.SQLAdminPassword,
	}
	return storage, workspace
}

// Provision creates the storage account and then the workspace.
// It stops at the first error; a storage account created before a failing
// workspace is left in place.
func (p *Provisioner) Provision(ctx context.Context, storage StorageAccountSpec, workspace WorkspaceSpec) (Outputs, error) {
	connStr, err := p.EnsureStorageAccount(ctx, storage)
	if err != nil {
		return Outputs{}, err
	}

	endpoint, err := p.EnsureAnalyticsWorkspace(ctx, workspace)
	if err != nil {
		return Outputs{}, err
	}

	return Outputs{
		ConnectionString: connStr,
		SQLEndpoint:      endpoint,
	}, nil
}

// EnsureResourceGroup creates the resource group or updates it in place
func (p *Provisioner) EnsureResourceGroup(ctx context.Context, group ResourceGroup) error {
	log := logger.WithResource(p.logger, "resource_group", group.Name)

	_, err := p.groups.CreateOrUpdate(ctx, group.Name, armresources.ResourceGroup{
		Location: to.Ptr(group.Location),
	})
	if err != nil {
		log.Error("Failed to create resource group", zap.Error(err))
		return fmt.Errorf("failed to create resource group '%s': %w", group.Name, err)
	}

	log.Info("Resource group created or already exists",
		zap.String("location", group.Location),
	)
	return nil
}

// EnsureStorageAccount ensures the resource group, creates the storage account and
// returns a connection string built from its first access key
func (p *Provisioner) EnsureStorageAccount(ctx context.Context, spec StorageAccountSpec) (string, error) {
	if err := p.EnsureResourceGroup(ctx, ResourceGroup{Name: spec.ResourceGroup, Location: spec.Location}); err != nil {
		return "", err
	}

	log := logger.WithResource(p.logger, "storage_account", spec.Name)

	sku := spec.SKU
	if sku == "" {
		sku = DefaultSKU
	}
	kind := spec.Kind
	if kind == "" {
		kind = DefaultKind
	}

	log.Info("Creating storage account",
		zap.String("sku", sku),
		zap.String("kind", kind),
	)

	_, err := p.accounts.Create(ctx, spec.ResourceGroup, spec.Name, armstorage.AccountCreateParameters{
		Location: to.Ptr(spec.Location),
		SKU: &armstorage.SKU{
			Name: to.Ptr(armstorage.SKUName(sku)),
		},
		Kind: to.Ptr(armstorage.Kind(kind)),
	})
	if err != nil {
		log.Error("Failed to create storage account", zap.Error(err))
		return "", fmt.Errorf("failed to create storage account '%s': %w", spec.Name, err)
	}

	log.Info("Storage account created")

	keys, err := p.accounts.ListKeys(ctx, spec.ResourceGroup, spec.Name)
	if err != nil {
		log.Error("Failed to list storage account keys", zap.Error(err))
		return "", fmt.Errorf("failed to list keys for storage account '%s': %w", spec.Name, err)
	}

	key, err := firstKey(keys)
	if err != nil {
		log.Error("Storage account has no usable key", zap.Int("keys", len(keys)))
		return "", fmt.Errorf("storage account '%s': %w", spec.Name, err)
	}

	return BuildConnectionString(spec.Name, key, p.endpointSuffix), nil
}

// EnsureAnalyticsWorkspace ensures the resource group, creates the Synapse workspace with a
// system-assigned identity linked to the storage account's data lake, and returns its SQL endpoint
func (p *Provisioner) EnsureAnalyticsWorkspace(ctx context.Context, spec WorkspaceSpec) (string, error) {
	if err := p.EnsureResourceGroup(ctx, ResourceGroup{Name: spec.ResourceGroup, Location: spec.Location}); err != nil {
		return "", err
	}

	log := logger.WithResource(p.logger, "synapse_workspace", spec.Name)

	filesystem := spec.Filesystem
	if filesystem == "" {
		filesystem = DefaultFilesystem
	}
	accountURL := DataLakeURL(spec.StorageAccountName, p.endpointSuffix)

	log.Info("Creating Synapse workspace",
		zap.String("data_lake_url", accountURL),
		zap.String("filesystem", filesystem),
	)

	workspace, err := p.workspaces.CreateOrUpdate(ctx, spec.ResourceGroup, spec.Name, armsynapse.Workspace{
		Location: to.Ptr(spec.Location),
		Identity: &armsynapse.ManagedIdentity{
			Type: to.Ptr(armsynapse.ResourceIdentityTypeSystemAssigned),
		},
		Properties: &armsynapse.WorkspaceProperties{
			DefaultDataLakeStorage: &armsynapse.DataLakeStorageAccountDetails{
				AccountURL: to.Ptr(accountURL),
				Filesystem: to.Ptr(filesystem),
			},
			SQLAdministratorLogin:         to.Ptr(spec.SQLAdminLogin),
			SQLAdministratorLoginPassword: to.Ptr(spec.SQLAdminPassword),
		},
	})
	if err != nil {
		log.Error("Failed to create Synapse workspace", zap.Error(err))
		return "", fmt.Errorf("failed to create Synapse workspace '%s': %w", spec.Name, err)
	}

	endpoint, err := sqlEndpoint(workspace)
	if err != nil {
		log.Error("Synapse workspace has no SQL endpoint", zap.Error(err))
		return "", fmt.Errorf("synapse workspace '%s': %w", spec.Name, err)
	}

	log.Info("Synapse workspace created", zap.String("sql_endpoint", endpoint))
	return endpoint, nil
}

// BuildConnectionString builds a shared key connection string for a storage account
func BuildConnectionString(accountName, accountKey, endpointSuffix string) string {
	return fmt.Sprintf("DefaultEndpointsProtocol=https;AccountName=%s;AccountKey=%s;EndpointSuffix=%s",
		accountName, accountKey, endpointSuffix)
}

// DataLakeURL returns the Data Lake Storage Gen2 endpoint of a storage account
func DataLakeURL(accountName, endpointSuffix string) string {
	return fmt.Sprintf("https://%s.dfs.%s", accountName, endpointSuffix)
}

func firstKey(keys []*armstorage.AccountKey) (string, error) {
	for _, k := range keys {
		if k != nil && k.Value != nil && *k.Value != "" {
			return *k.Value, nil
		}
	}
	return "", ErrNoAccountKeys
}

func sqlEndpoint(workspace armsynapse.Workspace) (string, error) {
	if workspace.Properties == nil {
		return "", ErrSQLEndpointMissing
	}
	endpoint, ok := workspace.Properties.ConnectivityEndpoints[sqlEndpointKey]
	if !ok || endpoint == nil || *endpoint == "" {
		return "", ErrSQLEndpointMissing
	}
	return *endpoint, nil
}
