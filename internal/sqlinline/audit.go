package sqlinline

// QAuditProjectTotals lists every (project, currency) whose stored total
// disagrees with the sum of its confirmed donations.
const QAuditProjectTotals = `--sql 772f1c0f-f2de-4534-b9fd-b39635c7419d
with confirmed as (
    select project_id, currency, sum(amount) as total
    from donations
    where status = 'CONFIRMED'
    group by project_id, currency
)
select coalesce(t.project_id, c.project_id)::text,
       coalesce(t.currency, c.currency),
       coalesce(t.raised_amount, 0)::text,
       coalesce(c.total, 0)::text
from project_totals t
full outer join confirmed c on c.project_id = t.project_id and c.currency = t.currency
where coalesce(t.raised_amount, 0) <> coalesce(c.total, 0)
  and ($1::text = '' or coalesce(t.project_id, c.project_id)::text = $1::text)
order by 1, 2;
`

const QCountDonationsByStatus = `--sql 4a2a05ac-ed9a-449a-902c-6898170d0f0d
select status, rail, count(*)
from donations
group by status, rail
order by status, rail;
`
