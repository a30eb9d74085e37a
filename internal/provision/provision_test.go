package provision_test

import (
	"context"
	"errors"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armresources"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/storage/armstorage"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/synapse/armsynapse"
	"github.com/straye-as/sports-datalake/internal/config"
	"github.com/straye-as/sports-datalake/internal/provision"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeGroups struct {
	calls []string
	err   error
}

func (f *fakeGroups) CreateOrUpdate(_ context.Context, name string, group armresources.ResourceGroup) (armresources.ResourceGroup, error) {
	f.calls = append(f.calls, name)
	if f.err != nil {
		return armresources.ResourceGroup{}, f.err
	}
	return armresources.ResourceGroup{Name: to.Ptr(name), Location: group.Location}, nil
}

type fakeAccounts struct {
	created   []armstorage.AccountCreateParameters
	keys      []*armstorage.AccountKey
	createErr error
	keysErr   error
}

func (f *fakeAccounts) Create(_ context.Context, _, name string, params armstorage.AccountCreateParameters) (armstorage.Account, error) {
	f.created = append(f.created, params)
	if f.createErr != nil {
		return armstorage.Account{}, f.createErr
	}
	return armstorage.Account{Name: to.Ptr(name)}, nil
}

func (f *fakeAccounts) ListKeys(context.Context, string, string) ([]*armstorage.AccountKey, error) {
	if f.keysErr != nil {
		return nil, f.keysErr
	}
	return f.keys, nil
}

type fakeWorkspaces struct {
	requests  []armsynapse.Workspace
	endpoints map[string]*string
	err       error
}

func (f *fakeWorkspaces) CreateOrUpdate(_ context.Context, _, name string, workspace armsynapse.Workspace) (armsynapse.Workspace, error) {
	f.requests = append(f.requests, workspace)
	if f.err != nil {
		return armsynapse.Workspace{}, f.err
	}
	return armsynapse.Workspace{
		Name: to.Ptr(name),
		Properties: &armsynapse.WorkspaceProperties{
			ConnectivityEndpoints: f.endpoints,
		},
	}, nil
}

type fixture struct {
	groups      *fakeGroups
	accounts    *fakeAccounts
	workspaces  *fakeWorkspaces
	provisioner *provision.Provisioner
}

func newFixture() *fixture {
	f := &fixture{
		groups: &fakeGroups{},
		accounts: &fakeAccounts{
			keys: []*armstorage.AccountKey{
				{KeyName: to.Ptr("key1"), Value: to.Ptr("c2VjcmV0LWtleS0x")},
				{KeyName: to.Ptr("key2"), Value: to.Ptr("c2VjcmV0LWtleS0y")},
			},
		},
		workspaces: &fakeWorkspaces{
			endpoints: map[string]*string{
				"sql":         to.Ptr("nbaws.sql.azuresynapse.net"),
				"sqlOnDemand": to.Ptr("nbaws-ondemand.sql.azuresynapse.net"),
				"web":         to.Ptr("https://web.azuresynapse.net?workspace=nbaws"),
			},
		},
	}
	f.provisioner = provision.NewProvisioner(&provision.Clients{
		ResourceGroups:  f.groups,
		StorageAccounts: f.accounts,
		Workspaces:      f.workspaces,
	}, "", zap.NewNop())
	return f
}

func storageSpec() provision.StorageAccountSpec {
	return provision.StorageAccountSpec{
		ResourceGroup: "nba-rg",
		Name:          "nbadatalake",
		Location:      "eastus",
	}
}

func workspaceSpec() provision.WorkspaceSpec {
	return provision.WorkspaceSpec{
		ResourceGroup:      "nba-rg",
		Name:               "nbaws",
		Location:           "eastus",
		StorageAccountName: "nbadatalake",
		SQLAdminLogin:      "sqladmin",
		SQLAdminPassword:   "P@ssw0rd!",
	}
}

func TestEnsureResourceGroup_Idempotent(t *testing.T) {
	f := newFixture()
	group := provision.ResourceGroup{Name: "nba-rg", Location: "eastus"}

	require.NoError(t, f.provisioner.EnsureResourceGroup(context.Background(), group))
	require.NoError(t, f.provisioner.EnsureResourceGroup(context.Background(), group))

	assert.Equal(t, []string{"nba-rg", "nba-rg"}, f.groups.calls)
}

func TestEnsureResourceGroup_PropagatesError(t *testing.T) {
	f := newFixture()
	f.groups.err = errors.New("AuthorizationFailed")

	err := f.provisioner.EnsureResourceGroup(context.Background(), provision.ResourceGroup{Name: "nba-rg", Location: "eastus"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "nba-rg")
	assert.ErrorIs(t, err, f.groups.err)
}

func TestEnsureStorageAccount_ReturnsConnectionString(t *testing.T) {
	f := newFixture()

	connStr, err := f.provisioner.EnsureStorageAccount(context.Background(), storageSpec())

	require.NoError(t, err)
	assert.Equal(t,
		"DefaultEndpointsProtocol=https;AccountName=nbadatalake;AccountKey=c2VjcmV0LWtleS0x;EndpointSuffix=core.windows.net",
		connStr,
	)
	assert.Equal(t, []string{"nba-rg"}, f.groups.calls, "resource group is ensured first")
}

func TestEnsureStorageAccount_Defaults(t *testing.T) {
	f := newFixture()

	_, err := f.provisioner.EnsureStorageAccount(context.Background(), storageSpec())
	require.NoError(t, err)

	require.Len(t, f.accounts.created, 1)
	params := f.accounts.created[0]
	assert.Equal(t, armstorage.SKUNameStandardLRS, *params.SKU.Name)
	assert.Equal(t, armstorage.KindStorageV2, *params.Kind)
	assert.Equal(t, "eastus", *params.Location)
}

func TestEnsureStorageAccount_SkipsEmptyKeys(t *testing.T) {
	f := newFixture()
	f.accounts.keys = []*armstorage.AccountKey{
		nil,
		{KeyName: to.Ptr("key1"), Value: to.Ptr("")},
		{KeyName: to.Ptr("key2"), Value: to.Ptr("a2V5Mg==")},
	}

	connStr, err := f.provisioner.EnsureStorageAccount(context.Background(), storageSpec())

	require.NoError(t, err)
	assert.Contains(t, connStr, "AccountKey=a2V5Mg==;")
}

func TestEnsureStorageAccount_Errors(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name    string
		setup   func(f *fixture)
		wantErr error
	}{
		{
			name:    "resource group fails",
			setup:   func(f *fixture) { f.groups.err = boom },
			wantErr: boom,
		},
		{
			name:    "create fails",
			setup:   func(f *fixture) { f.accounts.createErr = boom },
			wantErr: boom,
		},
		{
			name:    "list keys fails",
			setup:   func(f *fixture) { f.accounts.keysErr = boom },
			wantErr: boom,
		},
		{
			name:    "no keys",
			setup:   func(f *fixture) { f.accounts.keys = nil },
			wantErr: provision.ErrNoAccountKeys,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			tt.setup(f)

			connStr, err := f.provisioner.EnsureStorageAccount(context.Background(), storageSpec())

			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, connStr)
		})
	}
}

func TestEnsureStorageAccount_NotCreatedWhenGroupFails(t *testing.T) {
	f := newFixture()
	f.groups.err = errors.New("denied")

	_, err := f.provisioner.EnsureStorageAccount(context.Background(), storageSpec())

	require.Error(t, err)
	assert.Empty(t, f.accounts.created)
}

func TestEnsureAnalyticsWorkspace_ReturnsSQLEndpoint(t *testing.T) {
	f := newFixture()

	endpoint, err := f.provisioner.EnsureAnalyticsWorkspace(context.Background(), workspaceSpec())

	require.NoError(t, err)
	assert.Equal(t, "nbaws.sql.azuresynapse.net", endpoint)
}

func TestEnsureAnalyticsWorkspace_Request(t *testing.T) {
	f := newFixture()

	_, err := f.provisioner.EnsureAnalyticsWorkspace(context.Background(), workspaceSpec())
	require.NoError(t, err)

	require.Len(t, f.workspaces.requests, 1)
	ws := f.workspaces.requests[0]
	assert.Equal(t, "eastus", *ws.Location)
	assert.Equal(t, armsynapse.ResourceIdentityTypeSystemAssigned, *ws.Identity.Type)
	assert.Equal(t, "https://nbadatalake.dfs.core.windows.net", *ws.Properties.DefaultDataLakeStorage.AccountURL)
	assert.Equal(t, "synapse", *ws.Properties.DefaultDataLakeStorage.Filesystem)
	assert.Equal(t, "sqladmin", *ws.Properties.SQLAdministratorLogin)
	assert.Equal(t, "P@ssw0rd!", *ws.Properties.SQLAdministratorLoginPassword)
}

func TestEnsureAnalyticsWorkspace_MissingEndpoint(t *testing.T) {
	tests := []struct {
		name      string
		endpoints map[string]*string
	}{
		{name: "no endpoints", endpoints: nil},
		{name: "sql key absent", endpoints: map[string]*string{"web": to.Ptr("https://web")}},
		{name: "sql key nil", endpoints: map[string]*string{"sql": nil}},
		{name: "sql key empty", endpoints: map[string]*string{"sql": to.Ptr("")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.workspaces.endpoints = tt.endpoints

			endpoint, err := f.provisioner.EnsureAnalyticsWorkspace(context.Background(), workspaceSpec())

			assert.ErrorIs(t, err, provision.ErrSQLEndpointMissing)
			assert.Empty(t, endpoint)
		})
	}
}

func TestEnsureAnalyticsWorkspace_CreateFails(t *testing.T) {
	f := newFixture()
	f.workspaces.err = errors.New("QuotaExceeded")

	_, err := f.provisioner.EnsureAnalyticsWorkspace(context.Background(), workspaceSpec())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "nbaws")
}

func TestProvision(t *testing.T) {
	f := newFixture()

	out, err := f.provisioner.Provision(context.Background(), storageSpec(), workspaceSpec())

	require.NoError(t, err)
	assert.Contains(t, out.ConnectionString, "AccountName=nbadatalake")
	assert.Equal(t, "nbaws.sql.azuresynapse.net", out.SQLEndpoint)
}

func TestProvision_StopsAfterStorageFailure(t *testing.T) {
	f := newFixture()
	f.accounts.createErr = errors.New("StorageAccountAlreadyTaken")

	out, err := f.provisioner.Provision(context.Background(), storageSpec(), workspaceSpec())

	require.Error(t, err)
	assert.Equal(t, provision.Outputs{}, out)
	assert.Empty(t, f.workspaces.requests)
}

func TestProvision_NoRollbackWhenWorkspaceFails(t *testing.T) {
	f := newFixture()
	f.workspaces.err = errors.New("boom")

	_, err := f.provisioner.Provision(context.Background(), storageSpec(), workspaceSpec())

	require.Error(t, err)
	assert.Len(t, f.accounts.created, 1)
}

func TestBuildConnectionString_CustomSuffix(t *testing.T) {
	connStr := provision.BuildConnectionString("acct", "key==", "core.chinacloudapi.cn")
	assert.Equal(t, "DefaultEndpointsProtocol=https;AccountName=acct;AccountKey=key==;EndpointSuffix=core.chinacloudapi.cn", connStr)
}

func TestSpecsFromConfig(t *testing.T) {
	cfg := &config.Config{
		Azure: config.AzureConfig{
			SubscriptionID: "00000000-0000-0000-0000-000000000001",
			ResourceGroup:  "nba-rg",
			Location:       "westeurope",
		},
		Storage: config.StorageConfig{
			AccountName: "nbadatalake",
			SKU:         "Standard_GRS",
			Kind:        "StorageV2",
		},
		Workspace: config.WorkspaceConfig{
			Name:             "nbaws",
			Filesystem:       "raw",
			SQLAdminLogin:    "sqladmin",
			SQLAdminPassword: "secret",
		},
	}

	storage, workspace := provision.SpecsFromConfig(cfg)

	assert.Equal(t, provision.StorageAccountSpec{
		ResourceGroup: "nba-rg",
		Name:          "nbadatalake",
		Location:      "westeurope",
		SKU:           "Standard_GRS",
		Kind:          "StorageV2",
	}, storage)
	assert.Equal(t, "nbadatalake", workspace.StorageAccountName)
	assert.Equal(t, "raw", workspace.Filesystem)
	assert.Equal(t, "westeurope", workspace.Location)
}
