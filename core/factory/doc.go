// Package factory provides a small generic registry used to instantiate
// pluggable modules, such as metric sinks, from configuration. Modules are
// defined by a type string and a map of raw settings. Factories decode the
// settings into typed structs and return the concrete implementation.
//
// Example usage:
//
//	reg := factory.NewRegistry[metrics.Sink]()
//	reg.Register("influx", func(conf map[string]any) (metrics.Sink, error) {
//	    var c struct{ URL string `json:"url"` }
//	    if err := factory.Decode(conf, &c); err != nil {
//	        return nil, err
//	    }
//	    return newInflux(c.URL)
//	})
//	s, err := reg.Create(factory.ModuleConfig{Type: "influx", Conf: map[string]any{"url": "http://db:8086"}})
package factory
