// Package pagination drives a query template across offset/limit windows.
//
// The remote service does not report a total, so a walk continues until the
// first page that returns no rows. Each non-empty page is mapped to records
// and handed to the caller before the offset advances, and a politeness
// delay separates consecutive requests.
//
// Example usage:
//
//	p := pagination.New(queryClient, pagination.Config{
//		Delay:   time.Second,
//		Mapping: record.PeopleMapping,
//		Fixed:   map[string]string{"occ_id": "Q1622272"},
//	})
//	stop, err := p.Walk(ctx, tmpl, pagination.Window{Limit: 2000}, func(page pagination.Page) error {
//		return w.Write(page.Records)
//	})
//
// A failing window is reported as *PageError so the caller can shrink the
// window and resume from stop. The paginator never changes the limit itself.
package pagination
