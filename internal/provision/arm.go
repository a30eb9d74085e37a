package provision

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/arm"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armresources"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/storage/armstorage"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/synapse/armsynapse"
)

// Clients groups the management API clients a Provisioner needs
type Clients struct {
	ResourceGroups  ResourceGroupsAPI
	StorageAccounts StorageAccountsAPI
	Workspaces      WorkspacesAPI
}

// NewCredential creates the credential shared by all management clients.
// DefaultAzureCredential tries environment variables, workload and managed identity,
// then the Azure CLI.
func NewCredential() (azcore.TokenCredential, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}
	return cred, nil
}

// NewARMClients creates Azure Resource Manager clients for the subscription.
// opts may be nil.
func NewARMClients(subscriptionID string, cred azcore.TokenCredential, opts *arm.ClientOptions) (*Clients, error) {
	groups, err := armresources.NewResourceGroupsClient(subscriptionID, cred, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource groups client: %w", err)
	}

	accounts, err := armstorage.NewAccountsClient(subscriptionID, cred, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage accounts client: %w", err)
	}

	workspaces, err := armsynapse.NewWorkspacesClient(subscriptionID, cred, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create synapse workspaces client: %w", err)
	}

	return &Clients{
		ResourceGroups:  &armResourceGroups{client: groups},
		StorageAccounts: &armStorageAccounts{client: accounts},
		Workspaces:      &armWorkspaces{client: workspaces},
	}, nil
}

type armResourceGroups struct {
	client *armresources.ResourceGroupsClient
}

func (a *armResourceGroups) CreateOrUpdate(ctx context.Context, name string, group armresources.ResourceGroup) (armresources.ResourceGroup, error) {
	resp, err := a.client.CreateOrUpdate(ctx, name, group, nil)
	if err != nil {
		return armresources.ResourceGroup{}, err
	}
	return resp.ResourceGroup, nil
}

type armStorageAccounts struct {
	client *armstorage.AccountsClient
}

func (a *armStorageAccounts) Create(ctx context.Context, resourceGroup, name string, params armstorage.AccountCreateParameters) (armstorage.Account, error) {
	poller, err := a.client.BeginCreate(ctx, resourceGroup, name, params, nil)
	if err != nil {
		return armstorage.Account{}, err
	}
	resp, err := poller.PollUntilDone(ctx, nil)
	if err != nil {
		return armstorage.Account{}, err
	}
	return resp.Account, nil
}

func (a *armStorageAccounts) ListKeys(ctx context.Context, resourceGroup, name string) ([]*armstorage.AccountKey, error) {
	resp, err := a.client.ListKeys(ctx, resourceGroup, name, nil)
	if err != nil {
		return nil, err
	}
	return resp.Keys, nil
}

type armWorkspaces struct {
	client *armsynapse.WorkspacesClient
}

func (a *armWorkspaces) CreateOrUpdate(ctx context.Context, resourceGroup, name string, workspace armsynapse.Workspace) (armsynapse.Workspace, error) {
	poller, err := a.client.BeginCreateOrUpdate(ctx, resourceGroup, name, workspace, nil)
	if err != nil {
		return armsynapse.Workspace{}, err
	}
	resp, err := poller.PollUntilDone(ctx, nil)
	if err != nil {
		return armsynapse.Workspace{}, err
	}
	return resp.Workspace, nil
}
