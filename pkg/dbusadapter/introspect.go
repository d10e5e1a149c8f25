package dbusadapter

import "github.com/godbus/dbus/v5/introspect"

func managerIntrospection() *introspect.Node {
	return &introspect.Node{
		Name: string(ManagerPath),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			{
				Name: ManagerIface,
				Methods: []introspect.Method{
					{
						Name: "Start",
						Args: []introspect.Arg{
							{Name: "started", Type: "b", Direction: "out"},
						},
					},
					{
						Name: "GetAvailableStores",
						Args: []introspect.Arg{
							{Name: "stores", Type: "as", Direction: "out"},
						},
					},
				},
			},
		},
	}
}

func storeIntrospection(iface string, withRemoveRepository bool) *introspect.Node {
	methods := []introspect.Method{
		{
			Name: "Search",
			Args: []introspect.Arg{
				{Name: "query", Type: "s", Direction: "in"},
				{Name: "results", Type: "s", Direction: "out"},
			},
		},
		{
			Name: "UpdateCache",
			Args: []introspect.Arg{
				{Name: "success", Type: "b", Direction: "out"},
			},
		},
		{
			Name: "Install",
			Args: []introspect.Arg{
				{Name: "package_id", Type: "s", Direction: "in"},
				{Name: "success", Type: "b", Direction: "out"},
			},
		},
		{
			Name: "GetRepositories",
			Args: []introspect.Arg{
				{Name: "repositories", Type: "a(ss)", Direction: "out"},
			},
		},
		{
			Name: "GetUpgradable",
			Args: []introspect.Arg{
				{Name: "packages", Type: "aa{sv}", Direction: "out"},
			},
		},
		{
			Name: "UpgradePackages",
			Args: []introspect.Arg{
				{Name: "packages", Type: "as", Direction: "in"},
				{Name: "success", Type: "b", Direction: "out"},
			},
		},
		{
			Name: "GetInstalledApps",
			Args: []introspect.Arg{
				{Name: "apps", Type: "aa{sv}", Direction: "out"},
			},
		},
		{
			Name: "UninstallApp",
			Args: []introspect.Arg{
				{Name: "package_name", Type: "s", Direction: "in"},
				{Name: "success", Type: "b", Direction: "out"},
			},
		},
	}
	if withRemoveRepository {
		methods = append(methods, introspect.Method{
			Name: "RemoveRepository",
			Args: []introspect.Arg{
				{Name: "repo_id", Type: "s", Direction: "in"},
				{Name: "success", Type: "b", Direction: "out"},
			},
		})
	}

	return &introspect.Node{
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			{
				Name:    iface,
				Methods: methods,
				Signals: []introspect.Signal{
					{
						Name: appInstalledSignal,
						Args: []introspect.Arg{
							{Name: "package_id", Type: "s"},
						},
					},
				},
			},
		},
	}
}
